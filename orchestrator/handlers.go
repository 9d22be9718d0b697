// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package orchestrator

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"nlpflow/platform/registry"
	"nlpflow/platform/results"
	"nlpflow/platform/shared/logger"
)

// API serves the operational HTTP surface: health, metrics, job status,
// revocation, stored results and the current registry view.
type API struct {
	jobs     *JobService
	services ServiceLister
	language string
	log      *logger.Logger
}

// NewAPI creates the handler set
func NewAPI(jobs *JobService, services ServiceLister, language string) *API {
	return &API{
		jobs:     jobs,
		services: services,
		language: language,
		log:      logger.New("orchestrator-api"),
	}
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// NewRouter wires the API routes behind CORS
func NewRouter(api *API) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", api.healthHandler).Methods("GET")
	r.Handle("/prometheus", promhttp.Handler()).Methods("GET")

	r.HandleFunc("/api/v1/jobs/{id}", api.jobStatusHandler).Methods("GET")
	r.HandleFunc("/api/v1/jobs/{id}", api.revokeJobHandler).Methods("DELETE")
	r.HandleFunc("/api/v1/results/{id}", api.resultHandler).Methods("GET")
	r.HandleFunc("/api/v1/services", api.servicesHandler).Methods("GET")

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(r)
}

func (a *API) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"service":   "nlpflow-orchestrator",
		"timestamp": time.Now().UTC(),
	})
}

func (a *API) jobStatusHandler(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]
	status, err := a.jobs.JobStatus(r.Context(), jobID)
	if err != nil {
		a.log.ErrorWithCode(jobID, "api", "Failed to read job status", http.StatusServiceUnavailable, err, nil)
		sendErrorResponse(w, "Failed to read job status", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (a *API) revokeJobHandler(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]
	if err := a.jobs.Revoke(r.Context(), jobID); err != nil {
		a.log.ErrorWithCode(jobID, "api", "Failed to revoke job", http.StatusServiceUnavailable, err, nil)
		sendErrorResponse(w, "Failed to revoke job", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id":  jobID,
		"revoked": true,
	})
}

func (a *API) resultHandler(w http.ResponseWriter, r *http.Request) {
	resourceID := mux.Vars(r)["id"]
	result, found, err := a.jobs.FetchResult(r.Context(), resourceID)
	if err != nil {
		code, msg := http.StatusInternalServerError, "Failed to fetch result"
		if errors.Is(err, results.ErrStoreUnavailable) {
			code, msg = http.StatusServiceUnavailable, "Result store unavailable"
		}
		a.log.ErrorWithCode("", "api", msg, code, err, map[string]interface{}{"resource_id": resourceID})
		sendErrorResponse(w, msg, code)
		return
	}
	if !found {
		sendErrorResponse(w, "Result not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"resource_id": resourceID,
		"result":      result,
	})
}

func (a *API) servicesHandler(w http.ResponseWriter, r *http.Request) {
	snap, err := a.services.ListAvailableServices(r.Context(), false, a.language)
	if err != nil {
		code, msg := http.StatusInternalServerError, "Failed to list services"
		if errors.Is(err, registry.ErrRegistryUnavailable) {
			code, msg = http.StatusServiceUnavailable, "Service registry unavailable"
		}
		a.log.ErrorWithCode("", "api", msg, code, err, nil)
		sendErrorResponse(w, msg, code)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func writeJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

func sendErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	writeJSON(w, statusCode, errorResponse{Success: false, Error: message})
}

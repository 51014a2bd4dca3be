package handler

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/transferwave/identity-core/internal/http/response"
	"github.com/transferwave/identity-core/internal/repository"
	"github.com/transferwave/identity-core/internal/service"
)

// CredentialHandler exposes the organization cloud-credential store to the
// provisioning plane. Payloads cross the wire base64-encoded and only on the
// dedicated decrypt route.
type CredentialHandler struct {
	credentials *service.CredentialService
}

func NewCredentialHandler(credentials *service.CredentialService) *CredentialHandler {
	return &CredentialHandler{credentials: credentials}
}

type storeCredentialRequest struct {
	CloudProviderID string `json:"cloud_provider_id"`
	Name            string `json:"name"`
	CredentialType  string `json:"credential_type"`
	Payload         string `json:"payload"`
	IsDefault       bool   `json:"is_default"`
}

func (h *CredentialHandler) Store(w http.ResponseWriter, r *http.Request) {
	var req storeCredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "malformed body", nil)
		return
	}
	payload, err := base64.StdEncoding.DecodeString(req.Payload)
	if err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "payload must be base64", nil)
		return
	}
	cred, err := h.credentials.Store(service.StoreCredentialInput{
		OrganizationID:  chi.URLParam(r, "org_id"),
		CloudProviderID: req.CloudProviderID,
		Name:            req.Name,
		CredentialType:  req.CredentialType,
		Payload:         payload,
		IsDefault:       req.IsDefault,
	})
	if err != nil {
		writeFault(w, r, err, "could not store credential")
		return
	}
	response.JSON(w, r, http.StatusCreated, cred)
}

func (h *CredentialHandler) List(w http.ResponseWriter, r *http.Request) {
	query := repository.CredentialListQuery{
		OrganizationID:  chi.URLParam(r, "org_id"),
		CloudProviderID: r.URL.Query().Get("provider"),
	}
	query.Page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	query.PageSize, _ = strconv.Atoi(r.URL.Query().Get("page_size"))

	page, err := h.credentials.ListPaged(query)
	if err != nil {
		writeFault(w, r, err, "could not list credentials")
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{
		"items":       page.Items,
		"total":       page.Total,
		"page":        page.Page,
		"page_size":   page.PageSize,
		"total_pages": page.TotalPages,
	})
}

func (h *CredentialHandler) Decrypt(w http.ResponseWriter, r *http.Request) {
	decrypted, err := h.credentials.Get(chi.URLParam(r, "credential_id"))
	if err != nil {
		writeFault(w, r, err, "could not decrypt credential")
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{
		"credential": decrypted.Credential,
		"payload":    base64.StdEncoding.EncodeToString(decrypted.Payload),
	})
}

func (h *CredentialHandler) SetDefault(w http.ResponseWriter, r *http.Request) {
	if err := h.credentials.SetDefault(chi.URLParam(r, "credential_id")); err != nil {
		writeFault(w, r, err, "could not set default credential")
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "default"})
}

func (h *CredentialHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	if err := h.credentials.Deactivate(chi.URLParam(r, "credential_id")); err != nil {
		writeFault(w, r, err, "could not deactivate credential")
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "inactive"})
}

func (h *CredentialHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.credentials.Delete(chi.URLParam(r, "credential_id")); err != nil {
		writeFault(w, r, err, "could not delete credential")
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "deleted"})
}

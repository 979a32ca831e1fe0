package httpapi

import (
	"net/http"

	"tourneyhub.io/internal/audit"
	"tourneyhub.io/internal/auth"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

func (a *API) handleClientAudit(w http.ResponseWriter, r *http.Request) {
	clientID, _ := auth.ClientIDFromContext(r.Context())
	limit := queryInt(r, "limit", defaultAuditLimit, maxAuditLimit)
	offset := queryInt(r, "offset", 0, 0)
	entries, err := a.auditLog.ClientLogs(r.Context(), clientID, limit, offset)
	if err != nil {
		a.fail(w, r, err, "AUDIT_FETCH_ERROR")
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	writeData(w, http.StatusOK, entries)
}

func (a *API) handleTournamentAudit(w http.ResponseWriter, r *http.Request) {
	tournamentID, err := pathID(r, "tournamentId")
	if err != nil {
		a.fail(w, r, err, "AUDIT_FETCH_ERROR")
		return
	}
	limit := queryInt(r, "limit", defaultAuditLimit, maxAuditLimit)
	entries, err := a.auditLog.TournamentLogs(r.Context(), tournamentID, limit)
	if err != nil {
		a.fail(w, r, err, "AUDIT_FETCH_ERROR")
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	writeData(w, http.StatusOK, entries)
}

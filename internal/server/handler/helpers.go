package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	errorsmod "cosmossdk.io/errors"

	"github.com/alanyoungcy/polyoracle/internal/domain"
)

// maxBodyBytes bounds request bodies; the largest is an override with a
// handful of approvals.
const maxBodyBytes = 64 << 10

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
	Kind  string `json:"kind"`
}

// writeJSON marshals v as JSON and writes it with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error","kind":"internal"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError maps err to a status by its kind. Unclassified errors are
// logged and reported without detail.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	kind := domain.KindOf(err)
	if kind == domain.KindInternal {
		logger.ErrorContext(r.Context(), "handler: request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error", Kind: kind.String()})
		return
	}
	codespace, code := domain.CodeOf(err)
	writeJSON(w, statusFor(err, kind), errorResponse{
		Error: err.Error(),
		Code:  fmt.Sprintf("%s/%d", codespace, code),
		Kind:  kind.String(),
	})
}

func statusFor(err error, kind domain.Kind) int {
	switch kind {
	case domain.KindAuthorization:
		if errors.Is(err, domain.ErrUnauthorized) {
			return http.StatusUnauthorized
		}
		return http.StatusForbidden
	case domain.KindNotFound:
		// An unknown oracle or approver is the caller, not the resource.
		if errors.Is(err, domain.ErrNotRegistered) || errors.Is(err, domain.ErrInvalidApprover) {
			return http.StatusForbidden
		}
		return http.StatusNotFound
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindStateConflict:
		return http.StatusConflict
	case domain.KindTemporal:
		return http.StatusUnprocessableEntity
	case domain.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON reads a single JSON object into v, rejecting unknown fields.
// Failures are validation errors.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errorsmod.Wrapf(domain.ErrInvalidValue, "request body: %v", err)
	}
	return nil
}

// marketParam parses the {id} path value.
func marketParam(r *http.Request) (domain.MarketID, error) {
	id, err := domain.ParseMarketID(r.PathValue("id"))
	if err != nil {
		return domain.MarketID{}, errorsmod.Wrap(domain.ErrInvalidValue, err.Error())
	}
	return id, nil
}

// addressParam reads a named path value as an Address.
func addressParam(r *http.Request, name string) (domain.Address, error) {
	v := strings.TrimSpace(r.PathValue(name))
	if v == "" {
		return "", errorsmod.Wrapf(domain.ErrInvalidValue, "missing %s", name)
	}
	return domain.NewAddress(v), nil
}

// parseListOpts reads limit, offset, since and until (unix seconds) from the
// query string. Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) (domain.ListOpts, error) {
	q := r.URL.Query()
	opts := domain.ListOpts{Limit: 50}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return opts, errorsmod.Wrapf(domain.ErrInvalidValue, "limit %q", v)
		}
		opts.Limit = min(n, 500)
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return opts, errorsmod.Wrapf(domain.ErrInvalidValue, "offset %q", v)
		}
		opts.Offset = n
	}
	for name, dst := range map[string]**time.Time{"since": &opts.Since, "until": &opts.Until} {
		if v := q.Get(name); v != "" {
			sec, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return opts, errorsmod.Wrapf(domain.ErrInvalidValue, "%s %q", name, v)
			}
			t := time.Unix(sec, 0).UTC()
			*dst = &t
		}
	}
	return opts, nil
}

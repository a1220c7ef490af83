package channel

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"

	"wabridge/internal/domain"
)

const (
	msgNotRegistered = "The number is not registered"
	msgGroupNotFound = "No group found with name: "
	msgInternal      = "internal error"
	msgBadBody       = "request body could not be parsed"
)

// envelope is the uniform response body of every dispatch route.
type envelope struct {
	Status   bool `json:"status"`
	Response any  `json:"response,omitempty"`
	Message  any  `json:"message,omitempty"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	f, ok := s.bind(w, r)
	if !ok {
		return
	}
	s.dispatch(w, r, domain.DirectMessage{Number: f["number"], Text: f["message"]})
}

func (s *Server) handleSendMedia(w http.ResponseWriter, r *http.Request) {
	f, ok := s.bind(w, r)
	if !ok {
		return
	}
	s.dispatch(w, r, domain.MediaMessage{
		Number:    f["number"],
		Caption:   f["caption"],
		SourceURL: f["file"],
	})
}

func (s *Server) handleSendGroupMessage(w http.ResponseWriter, r *http.Request) {
	f, ok := s.bind(w, r)
	if !ok {
		return
	}
	s.dispatch(w, r, domain.GroupMessage{
		Ref:  domain.GroupRef{ID: f["id"], Name: f["name"]},
		Text: f["message"],
	})
}

func (s *Server) handleClearMessage(w http.ResponseWriter, r *http.Request) {
	f, ok := s.bind(w, r)
	if !ok {
		return
	}
	s.dispatch(w, r, domain.ClearChat{Number: f["number"]})
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, req domain.Request) {
	out := s.dispatcher.Dispatch(r.Context(), req)
	s.writeOutcome(w, out)
}

// writeOutcome maps a dispatch outcome onto the status code and envelope.
func (s *Server) writeOutcome(w http.ResponseWriter, out domain.Outcome) {
	switch out.Kind {
	case domain.OutcomeSuccess:
		writeJSON(w, http.StatusOK, envelope{Status: true, Response: out.Payload})
	case domain.OutcomeValidationFailed:
		writeJSON(w, http.StatusUnprocessableEntity, envelope{Message: out.Errors})
	case domain.OutcomeRecipientNotRegistered:
		writeJSON(w, http.StatusUnprocessableEntity, envelope{Message: msgNotRegistered})
	case domain.OutcomeGroupNotFound:
		writeJSON(w, http.StatusUnprocessableEntity, envelope{Message: msgGroupNotFound + out.Group})
	default:
		detail := msgInternal
		if out.Err != nil && !s.redactErrors {
			detail = out.Err.Error()
		}
		writeJSON(w, http.StatusInternalServerError, envelope{Response: detail})
	}
}

// bind reads a JSON or form body into string fields. Numbers and booleans
// in JSON are accepted and rendered in their literal form.
func (s *Server) bind(w http.ResponseWriter, r *http.Request) (map[string]string, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)

	fields, err := readFields(r)
	if err != nil {
		s.logger.Debug("bad request body", "path", r.URL.Path, "err", err)
		writeJSON(w, http.StatusBadRequest, envelope{Message: msgBadBody})
		return nil, false
	}
	return fields, true
}

func readFields(r *http.Request) (map[string]string, error) {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch ct {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		if err := r.ParseMultipartForm(maxBodySize); err != nil && !errors.Is(err, http.ErrNotMultipart) {
			return nil, err
		}
		fields := make(map[string]string, len(r.PostForm))
		for k := range r.PostForm {
			fields[k] = r.PostForm.Get(k)
		}
		return fields, nil
	}

	var raw map[string]any
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("decode json: %w", err)
	}
	fields := make(map[string]string, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case nil:
		case string:
			fields[k] = val
		case json.Number, bool:
			fields[k] = fmt.Sprint(val)
		default:
			return nil, fmt.Errorf("field %q: unsupported type %T", k, v)
		}
	}
	return fields, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

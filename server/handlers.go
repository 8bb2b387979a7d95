package server

import (
	"bytes"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/bjaus/tabexport"
	"github.com/bjaus/tabexport/pipeline"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// downloadHeaders are cleared before an error body replaces a download that
// never started.
var downloadHeaders = []string{
	"Content-Type",
	"Content-Length",
	"Content-Disposition",
	"Content-Description",
	"Content-Transfer-Encoding",
}

func (s *Server) formats(c *gin.Context) {
	reg := s.pipeline.Registry()
	succeed(c, gin.H{"formats": reg.Describe(), "choices": reg.Choices()})
}

func (s *Server) export(c *gin.Context) {
	req, ok := s.parseRequest(c)
	if !ok {
		return
	}
	if err := s.pipeline.Export(c.Request.Context(), c.Writer, req); err != nil {
		s.respondError(c, err)
	}
}

func (s *Server) exportAsync(c *gin.Context) {
	req, ok := s.parseRequest(c)
	if !ok {
		return
	}
	token, err := s.pipeline.ExportAsync(c.Request.Context(), req)
	if err != nil {
		s.respondError(c, err)
		return
	}
	succeed(c, gin.H{"download_url": "/export/download?token=" + url.QueryEscape(token)})
}

func (s *Server) download(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		fail(c, http.StatusBadRequest, "Invalid parameters.")
		return
	}
	if err := s.pipeline.Download(c.Request.Context(), c.Writer, token); err != nil {
		s.respondError(c, err)
	}
}

func (s *Server) nonce(c *gin.Context) {
	n, err := s.signer.IssueNonce(s.nonceTTL)
	if err != nil {
		s.respondError(c, err)
		return
	}
	succeed(c, gin.H{"nonce": n, "expires_in": int(s.nonceTTL.Seconds())})
}

// options renders the option form of one format with its defaults.
func (s *Server) options(c *gin.Context) {
	if err := s.signer.VerifyNonce(c.PostForm("nonce")); err != nil {
		fail(c, http.StatusForbidden, pipeline.ErrIntegrityCheckFailed.Error())
		return
	}
	id := strings.ToLower(strings.TrimSpace(c.PostForm("format")))
	if id == "" {
		fail(c, http.StatusBadRequest, "Invalid format.")
		return
	}
	enc, ok := s.pipeline.Registry().Get(id)
	if !ok {
		fail(c, http.StatusNotFound, "Format not found.")
		return
	}
	var buf bytes.Buffer
	if err := tabexport.RenderFields(&buf, id, enc.Fields(), enc.DefaultOptions()); err != nil {
		s.respondError(c, err)
		return
	}
	succeed(c, gin.H{"html": buf.String()})
}

func (s *Server) recent(c *gin.Context) {
	formID, err := queryInt(c, "form_id", 0)
	if err != nil {
		fail(c, http.StatusBadRequest, "Invalid form_id.")
		return
	}
	limit, err := queryInt(c, "limit", defaultHistoryLimit)
	if err != nil || limit <= 0 {
		fail(c, http.StatusBadRequest, "Invalid limit.")
		return
	}
	limit = min(limit, maxHistoryLimit)
	records, err := s.history.Recent(c.Request.Context(), formID, limit)
	if err != nil {
		s.respondError(c, err)
		return
	}
	succeed(c, gin.H{"exports": records})
}

func (s *Server) summary(c *gin.Context) {
	formID, err := strconv.Atoi(c.Param("form_id"))
	if err != nil || formID <= 0 {
		fail(c, http.StatusBadRequest, "Invalid form_id.")
		return
	}
	sum, err := s.history.Summary(c.Request.Context(), formID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	succeed(c, sum)
}

func (s *Server) parseRequest(c *gin.Context) (*pipeline.ExportRequest, bool) {
	if err := c.Request.ParseForm(); err != nil {
		fail(c, http.StatusBadRequest, "Invalid parameters.")
		return nil, false
	}
	return pipeline.ParseRequest(c.Request.Form), true
}

// respondError writes the error response for err. Once a download has
// started the status is already sent; the pipeline has logged the failure.
func (s *Server) respondError(c *gin.Context, err error) {
	if c.Writer.Written() {
		return
	}
	status, message := statusOf(err)
	if status >= http.StatusInternalServerError {
		s.log.WithError(err).WithField("path", c.Request.URL.Path).Error("Export request failed")
	}
	h := c.Writer.Header()
	for _, k := range downloadHeaders {
		h.Del(k)
	}
	fail(c, status, message)
}

func statusOf(err error) (int, string) {
	switch {
	case errors.Is(err, pipeline.ErrUnauthorized):
		return http.StatusForbidden, "Permission denied."
	case errors.Is(err, pipeline.ErrIntegrityCheckFailed):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, pipeline.ErrInvalidRequest):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, tabexport.ErrUnknownFormat):
		return http.StatusBadRequest, "Invalid format."
	case errors.Is(err, pipeline.ErrFormNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, pipeline.ErrUnsupportedFormType):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, pipeline.ErrInvalidDownload):
		return http.StatusGone, pipeline.ErrInvalidDownload.Error()
	case errors.Is(err, pipeline.ErrAsyncUnavailable):
		return http.StatusNotImplemented, err.Error()
	}
	return http.StatusInternalServerError, "Export failed."
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	v := c.Query(key)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/claimwise/internal/edi/decoder"
	"github.com/smallbiznis/claimwise/internal/edi/rebuild"
	"github.com/smallbiznis/claimwise/internal/edi/x12"
)

const maxX12Body = 5 << 20

type ediRequest struct {
	X12 string `json:"x12"`
}

type fixRequest struct {
	X12 string         `json:"x12"`
	Fix rebuild.FixSet `json:"fix"`
	// UseProviderProfile adds the configured provider placeholders and the
	// single-successor code replacements under the caller's mapping.
	UseProviderProfile bool `json:"use_provider_profile"`
}

type parseResponse struct {
	Tree             *decoder.SegmentTree  `json:"tree"`
	Diagnostics      []x12.ParseDiagnostic `json:"diagnostics"`
	Claim            *decoder.ClaimView    `json:"claim,omitempty"`
	ClaimDiagnostics []x12.ParseDiagnostic `json:"claim_diagnostics,omitempty"`
}

// ParseEDI returns the segment tree and, when the interchange holds a claim,
// its business fields. A malformed interchange still answers 200 with
// diagnostics.
func (s *Server) ParseEDI(c *gin.Context) {
	raw, ok := readX12(c)
	if !ok {
		return
	}

	tree := decoder.Parse(raw)
	resp := parseResponse{
		Tree:        tree,
		Diagnostics: nonNil(tree.Diagnostics()),
	}
	if len(tree.Find("CLM", "")) > 0 {
		view, diags := decoder.ExtractClaim(tree)
		resp.Claim = &view
		resp.ClaimDiagnostics = diags
	}
	for _, d := range resp.Diagnostics {
		s.metrics.IncParseDiagnostic(string(d.Code))
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) DiagnoseEDI(c *gin.Context) {
	raw, ok := readX12(c)
	if !ok {
		return
	}

	diags := s.rebuilder.Diagnose(raw)
	if diags == nil {
		diags = []rebuild.SegmentDiagnostic{}
	}
	for _, d := range diags {
		s.metrics.IncParseDiagnostic(string(d.Kind))
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"clean":       len(diags) == 0,
		"diagnostics": diags,
	}})
}

// FixEDI answers 422 with the remaining diagnostics unless the request
// accepts a residual.
func (s *Server) FixEDI(c *gin.Context) {
	var req fixRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if strings.TrimSpace(req.X12) == "" {
		AbortWithError(c, newValidationError("x12", "required", "x12 is required"))
		return
	}

	set := req.Fix
	if req.UseProviderProfile {
		mapping := rebuild.DefaultMapping(s.provider, nil)
		for from, to := range req.Fix.Mapping {
			mapping[from] = to
		}
		set.Mapping = mapping
	}

	res, err := s.rebuilder.ApplyFix(req.X12, set)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if res.Applied == nil {
		res.Applied = []rebuild.AppliedFix{}
	}

	c.JSON(http.StatusOK, gin.H{"data": res})
}

// readX12 accepts the interchange either as the raw body or as {"x12": ...}.
func readX12(c *gin.Context) (string, bool) {
	contentType := c.ContentType()
	if contentType == contentTypeX12 || contentType == "text/plain" {
		body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxX12Body))
		if err != nil {
			AbortWithError(c, invalidRequestError())
			return "", false
		}
		if strings.TrimSpace(string(body)) == "" {
			AbortWithError(c, newValidationError("x12", "required", "x12 is required"))
			return "", false
		}
		return string(body), true
	}

	var req ediRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return "", false
	}
	if strings.TrimSpace(req.X12) == "" {
		AbortWithError(c, newValidationError("x12", "required", "x12 is required"))
		return "", false
	}
	return req.X12, true
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

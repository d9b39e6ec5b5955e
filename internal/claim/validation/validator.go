// Package validation applies business rules to a claim. Validation is pure:
// the same claim and context always yield the same ordered error list.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/go-playground/validator/v10"
	"github.com/smallbiznis/claimwise/internal/claim/domain"
	"github.com/smallbiznis/claimwise/internal/codetable"
	"github.com/smallbiznis/claimwise/internal/config"
)

// Fingerprint summarizes one service line of another claim for the same patient.
type Fingerprint struct {
	ClaimID     snowflake.ID
	Status      domain.ClaimStatus
	CPT         string
	Units       int
	ServiceDate time.Time
}

// Context carries everything outside the claim that rules depend on.
type Context struct {
	Payer    config.PayerRule
	Existing []Fingerprint
}

type Validator struct {
	tables  *codetable.Tables
	structs *validator.Validate
}

func New(tables *codetable.Tables) *Validator {
	if tables == nil {
		tables = codetable.Default()
	}
	structs := validator.New(validator.WithRequiredStructEnabled())
	structs.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return field.Name
		}
		return name
	})
	return &Validator{tables: tables, structs: structs}
}

// Fingerprints flattens active claims into comparable service lines. Denied
// claims and the claim being validated are excluded.
func Fingerprints(claims []domain.Claim, exclude snowflake.ID) []Fingerprint {
	out := make([]Fingerprint, 0, len(claims))
	for _, claim := range claims {
		if claim.ID == exclude || claim.Status == domain.ClaimStatusDenied {
			continue
		}
		for _, line := range claim.ServiceLines {
			out = append(out, Fingerprint{
				ClaimID:     claim.ID,
				Status:      claim.Status,
				CPT:         codetable.NormalizeCPT(line.CPT),
				Units:       line.Units,
				ServiceDate: day(line.ServiceDate),
			})
		}
	}
	return out
}

// Validate runs every rule in segment order: header, billing provider,
// rendering provider, subscriber, payer, diagnoses, then service lines.
func (v *Validator) Validate(claim domain.Claim, vctx Context) []domain.ValidationError {
	c := &collector{}

	v.structFields(c, "", 0, claim, "PatientID", "PlaceOfService")

	v.structFields(c, "billing_provider", 0, claim.BillingProvider)
	v.provider(c, "billing_provider", claim.BillingProvider)

	v.structFields(c, "rendering_provider", 0, claim.RenderingProvider, "NPI", "LastName", "EntityType")
	if claim.RenderingProvider.NPI != "" {
		v.provider(c, "rendering_provider", claim.RenderingProvider)
	}

	v.structFields(c, "subscriber", 0, claim.Subscriber)
	v.structFields(c, "payer", 0, claim.Payer)

	v.diagnoses(c, claim)
	v.serviceLines(c, claim, vctx)

	return c.errs
}

type collector struct {
	errs []domain.ValidationError
}

func (c *collector) add(kind domain.ValidationKind, field string, line int, value, message string) {
	c.errs = append(c.errs, domain.ValidationError{
		Kind:    kind,
		Field:   field,
		Line:    line,
		Value:   value,
		Message: message,
	})
}

// structFields maps struct-tag violations to MissingField or InvalidValue.
// fields restricts validation to the named struct fields.
func (v *Validator) structFields(c *collector, prefix string, line int, value any, fields ...string) {
	var err error
	if len(fields) > 0 {
		err = v.structs.StructPartial(value, fields...)
	} else {
		err = v.structs.Struct(value)
	}
	if err == nil {
		return
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		c.add(domain.KindInvalidValue, prefix, line, "", err.Error())
		return
	}

	for _, fe := range fieldErrs {
		field := namespaceField(prefix, fe.Namespace())
		switch fe.Tag() {
		case "required", "min":
			c.add(domain.KindMissingField, field, line, "", field+" is required")
		default:
			c.add(domain.KindInvalidValue, field, line, fmt.Sprint(fe.Value()), fmt.Sprintf("%s fails %s=%s", field, fe.Tag(), fe.Param()))
		}
	}
}

func (v *Validator) provider(c *collector, prefix string, p domain.Provider) {
	if p.NPI != "" {
		if err := codetable.CheckNPI(p.NPI); err != nil {
			msg := "npi must be 10 digits"
			if errors.Is(err, codetable.ErrNPIChecksum) {
				msg = "npi check digit does not match"
			}
			c.add(domain.KindInvalidNPI, prefix+".npi", 0, p.NPI, msg)
		}
	}
	if p.TaxonomyCode != "" {
		if _, ok := v.tables.Taxonomy(p.TaxonomyCode); !ok {
			c.add(domain.KindInvalidValue, prefix+".taxonomy_code", 0, p.TaxonomyCode, "unknown provider taxonomy")
		}
	}
}

func (v *Validator) diagnoses(c *collector, claim domain.Claim) {
	if len(claim.Diagnoses) == 0 {
		c.add(domain.KindMissingField, "diagnoses", 0, "", "at least one diagnosis is required")
		return
	}
	if len(claim.Diagnoses) > domain.MaxDiagnoses {
		c.add(domain.KindInvalidValue, "diagnoses", 0, fmt.Sprint(len(claim.Diagnoses)),
			fmt.Sprintf("at most %d diagnoses are allowed", domain.MaxDiagnoses))
	}

	for i, dx := range claim.Diagnoses {
		field := fmt.Sprintf("diagnoses[%d]", i)
		if want := domain.PointerLetter(i); want != "" && dx.Pointer != want {
			c.add(domain.KindInvalidValue, field+".pointer", 0, dx.Pointer,
				fmt.Sprintf("diagnosis %d must carry pointer %s", i+1, want))
		}
		code := strings.TrimSpace(dx.Code)
		if code == "" {
			c.add(domain.KindMissingField, field+".code", 0, "", "diagnosis code is required")
			continue
		}
		entry, ok := v.tables.ICD10(code)
		switch {
		case !ok:
			c.add(domain.KindInvalidICD10, field+".code", 0, code, "unknown ICD-10 code")
		case entry.Deprecated:
			c.add(domain.KindInvalidICD10, field+".code", 0, code, "ICD-10 code is deprecated")
		case !entry.Billable:
			c.add(domain.KindInvalidICD10, field+".code", 0, code, "ICD-10 category is not billable, use a more specific code")
		}
	}
}

func (v *Validator) serviceLines(c *collector, claim domain.Claim, vctx Context) {
	if len(claim.ServiceLines) == 0 {
		c.add(domain.KindMissingField, "service_lines", 0, "", "at least one service line is required")
		return
	}
	if len(claim.ServiceLines) > domain.MaxServiceLines {
		c.add(domain.KindInvalidValue, "service_lines", 0, fmt.Sprint(len(claim.ServiceLines)),
			fmt.Sprintf("at most %d service lines are allowed", domain.MaxServiceLines))
	}

	usage := newUsage(vctx.Existing)
	for i, line := range claim.ServiceLines {
		n := i + 1
		v.structFields(c, "service_lines", n, line)
		v.lineCodes(c, n, line, vctx.Payer)
		v.linePointers(c, n, claim, line)

		if line.Units <= 0 {
			c.add(domain.KindInvalidValue, "service_lines.units", n, fmt.Sprint(line.Units), "units must be a positive integer")
		}
		if line.ChargeCents <= 0 {
			c.add(domain.KindInvalidValue, "service_lines.charge_cents", n, fmt.Sprint(line.ChargeCents), "charge must be positive")
		}
		if line.ServiceDate.IsZero() || line.CPT == "" {
			continue
		}

		duplicate := usage.duplicate(line)
		if duplicate {
			c.add(domain.KindDuplicateClaim, "service_lines.cpt", n, line.CPT,
				fmt.Sprintf("%s on %s is already billed on an active claim", line.CPT, line.ServiceDate.Format("2006-01-02")))
		}
		v.authorization(c, n, claim, line, vctx.Payer)
		if !duplicate {
			usage.frequency(c, n, line, vctx.Payer)
		}
	}
}

func (v *Validator) lineCodes(c *collector, n int, line domain.ServiceLine, rule config.PayerRule) {
	if line.CPT == "" {
		return
	}
	cpt := codetable.NormalizeCPT(line.CPT)
	entry, ok := v.tables.CPT(cpt)
	if !ok {
		c.add(domain.KindInvalidCPT, "service_lines.cpt", n, line.CPT, "unknown CPT code")
		return
	}
	if entry.Deprecated {
		c.add(domain.KindInvalidCPT, "service_lines.cpt", n, line.CPT, "CPT code is deprecated")
		return
	}

	if len(line.Modifiers) > domain.MaxModifiers {
		c.add(domain.KindModifierMismatch, "service_lines.modifiers", n, strings.Join(line.Modifiers, ":"),
			fmt.Sprintf("at most %d modifiers are allowed", domain.MaxModifiers))
	}
	payerAllowed, payerRestricts := rule.AllowedModifiers[cpt]
	for _, mod := range line.Modifiers {
		mod = codetable.NormalizeModifier(mod)
		if !v.tables.ModifierAllowed(cpt, mod) {
			c.add(domain.KindModifierMismatch, "service_lines.modifiers", n, mod,
				fmt.Sprintf("modifier %s is not valid for %s", mod, cpt))
			continue
		}
		if payerRestricts && !containsFold(payerAllowed, mod) {
			c.add(domain.KindModifierMismatch, "service_lines.modifiers", n, mod,
				fmt.Sprintf("payer does not accept modifier %s on %s", mod, cpt))
		}
	}
	for _, required := range rule.RequiredModifiers[cpt] {
		if !containsFold(line.Modifiers, required) {
			c.add(domain.KindModifierMismatch, "service_lines.modifiers", n, required,
				fmt.Sprintf("payer requires modifier %s on %s", required, cpt))
		}
	}
}

func (v *Validator) linePointers(c *collector, n int, claim domain.Claim, line domain.ServiceLine) {
	if len(line.DiagnosisPointers) > domain.MaxPointers {
		c.add(domain.KindInvalidValue, "service_lines.diagnosis_pointers", n, strings.Join(line.DiagnosisPointers, ""),
			fmt.Sprintf("at most %d diagnosis pointers are allowed", domain.MaxPointers))
	}
	for _, pointer := range line.DiagnosisPointers {
		if _, ok := claim.DiagnosisIndex(pointer); !ok {
			c.add(domain.KindDiagnosisPointerOutOfRange, "service_lines.diagnosis_pointers", n, pointer,
				fmt.Sprintf("pointer %s does not reference a diagnosis on this claim", pointer))
		}
	}
}

func (v *Validator) authorization(c *collector, n int, claim domain.Claim, line domain.ServiceLine, rule config.PayerRule) {
	auth := claim.PriorAuthorization
	if auth == nil {
		if rule.RequiresPriorAuth {
			c.add(domain.KindMissingField, "prior_authorization", n, "", "payer requires prior authorization")
		}
		return
	}
	if !auth.Covers(line.ServiceDate) {
		c.add(domain.KindAuthorizationExpired, "prior_authorization", n, auth.Number,
			fmt.Sprintf("authorization %s does not cover %s", auth.Number, line.ServiceDate.Format("2006-01-02")))
	}
}

func namespaceField(prefix, namespace string) string {
	// Namespace is Struct.field.sub; drop the struct name.
	parts := strings.SplitN(namespace, ".", 2)
	field := namespace
	if len(parts) == 2 {
		field = parts[1]
	}
	if prefix == "" {
		return field
	}
	return prefix + "." + field
}

func containsFold(values []string, target string) bool {
	for _, value := range values {
		if strings.EqualFold(strings.TrimSpace(value), target) {
			return true
		}
	}
	return false
}

func day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Package claimtest provides claim fixtures shared by package tests.
package claimtest

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/claimwise/internal/claim/domain"
	"github.com/smallbiznis/claimwise/internal/config"
)

const (
	BillingNPI   = "1234567893"
	RenderingNPI = "1999999992"
	Taxonomy     = "235Z00000X"
)

var ServiceDate = time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC)

func Address() domain.Address {
	return domain.Address{Line1: "100 MAIN ST", City: "AUSTIN", State: "TX", PostalCode: "78701"}
}

// Event is a completed session that produces a valid single-line claim.
func Event(patientID string) domain.SessionBillingEvent {
	rendering := RenderingProvider()
	return domain.SessionBillingEvent{
		PatientID:         patientID,
		SessionID:         "session-" + patientID,
		PlaceOfService:    "11",
		Subscriber:        Subscriber(),
		BillingProvider:   BillingProvider(),
		RenderingProvider: &rendering,
		Payer:             domain.Payer{ID: "ACME", Name: "ACME HEALTH", FilingIndicator: "CI"},
		Diagnoses:         []string{"F80.2"},
		Services: []domain.SessionService{{
			CPT:               "92507",
			Modifiers:         []string{"GN"},
			Units:             1,
			ChargeCents:       9178,
			DiagnosisPointers: []string{"A"},
			ServiceDate:       ServiceDate,
		}},
	}
}

func BillingProvider() domain.Provider {
	return domain.Provider{
		EntityType:   domain.EntityTypeOrganization,
		NPI:          BillingNPI,
		TaxonomyCode: Taxonomy,
		LastName:     "BRIGHT SPEECH THERAPY",
		TaxID:        "741234567",
		Address:      Address(),
	}
}

func RenderingProvider() domain.Provider {
	return domain.Provider{
		EntityType:   domain.EntityTypePerson,
		NPI:          RenderingNPI,
		TaxonomyCode: Taxonomy,
		LastName:     "RIVERS",
		FirstName:    "JO",
	}
}

func Subscriber() domain.Subscriber {
	return domain.Subscriber{
		MemberID:  "W123456789",
		FirstName: "SAM",
		LastName:  "LEE",
		BirthDate: time.Date(2016, 2, 10, 0, 0, 0, 0, time.UTC),
		Gender:    "M",
		Address:   Address(),
	}
}

// Claim is a ReadyToSubmit claim with control numbers derived from seq.
func Claim(id snowflake.ID, seq int64) domain.Claim {
	event := Event("patient-1")
	return domain.Claim{
		ID:                id,
		PatientID:         event.PatientID,
		SessionID:         event.SessionID,
		PlaceOfService:    event.PlaceOfService,
		BillingProvider:   event.BillingProvider,
		RenderingProvider: *event.RenderingProvider,
		Subscriber:        event.Subscriber,
		Payer:             event.Payer,
		Diagnoses:         domain.AssignPointers(event.Diagnoses),
		ServiceLines: []domain.ServiceLine{{
			CPT:               "92507",
			Modifiers:         []string{"GN"},
			DiagnosisPointers: []string{"A"},
			Units:             1,
			ChargeCents:       9178,
			ServiceDate:       ServiceDate,
		}},
		Status:  domain.ClaimStatusReadyToSubmit,
		Control: domain.NewControlNumbers(seq),
		Version: 1,
	}
}

func EDIConfig() config.EDIConfig {
	return config.EDIConfig{
		SenderID:       "CLAIMWISE",
		ReceiverID:     "CLEARINGHOUSE",
		ReceiverName:   "CLEARINGHOUSE",
		SubmitterName:  "BRIGHT SPEECH THERAPY",
		ContactName:    "BILLING OFFICE",
		ContactPhone:   "512-555-0100",
		UsageIndicator: "T",
	}
}

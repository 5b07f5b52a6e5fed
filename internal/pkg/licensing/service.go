package licensing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/licensefox/licensefox/app/models"
	"github.com/licensefox/licensefox/app/repository"
)

const maxKeyAttempts = 5

// Semantic issuance errors: retrying the triggering event cannot fix these,
// so callers log and acknowledge instead of failing the delivery.
var (
	ErrUnknownTier  = errors.New("unknown license tier")
	ErrMissingEmail = errors.New("customer email is required")
)

// IsSemantic reports whether err is a data problem rather than a transient one.
func IsSemantic(err error) bool {
	return errors.Is(err, ErrUnknownTier) || errors.Is(err, ErrMissingEmail)
}

// Service owns the license lifecycle: issuing, extending and evaluating
// license records. Idempotency lives with the caller: this service assumes
// the triggering payment identifier was already checked against the ledgers.
type Service struct {
	licenses repository.LicenseRepository
	policy   *Policy
}

// NewService creates a licensing service from an injected repository and policy.
func NewService(licenses repository.LicenseRepository, policy *Policy) *Service {
	return &Service{licenses: licenses, policy: policy}
}

// Policy exposes the active policy table (grace window, interval length).
func (s *Service) Policy() *Policy {
	return s.policy
}

// IssueInput carries the customer and purchase data for a new license.
type IssueInput struct {
	Tier     string
	Email    string
	Name     string
	Company  string
	Domain   string
	Provider string
}

// IssueLicense generates and stores a new active license. The triggering
// event already implies payment success, so the license starts active with
// validFrom = now and validUntil one trial window or billing interval out.
func (s *Service) IssueLicense(ctx context.Context, in IssueInput) (*models.License, error) {
	_ = ctx
	tier := strings.ToLower(strings.TrimSpace(in.Tier))
	email := strings.TrimSpace(in.Email)
	if email == "" {
		return nil, ErrMissingEmail
	}
	tp, ok := s.policy.TierFor(tier)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTier, in.Tier)
	}

	key, err := s.generateUniqueKey(tier)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var validUntil time.Time
	if tier == models.LicenseTierTrial {
		validUntil = now.Add(s.policy.TrialDuration)
	} else {
		validUntil = s.policy.AddInterval(now)
	}

	featuresJSON, err := json.Marshal(tp.Features)
	if err != nil {
		return nil, err
	}

	license := &models.License{
		LicenseKey:        key,
		Tier:              tier,
		Status:            models.LicenseStatusActive,
		CustomerEmail:     email,
		CustomerName:      strings.TrimSpace(in.Name),
		CustomerCompany:   strings.TrimSpace(in.Company),
		Domain:            strings.TrimSpace(in.Domain),
		ValidFrom:         now,
		ValidUntil:        &validUntil,
		MaxStores:         tp.MaxStores,
		MaxProducts:       tp.MaxProducts,
		MaxOrdersPerMonth: tp.MaxOrdersPerMonth,
		FeaturesJSON:      string(featuresJSON),
		AutoRenew:         tier != models.LicenseTierTrial,
		Provider:          strings.ToLower(strings.TrimSpace(in.Provider)),
	}
	if err := s.licenses.Create(license); err != nil {
		return nil, err
	}
	return license, nil
}

// ExtendLicense adds exactly one billing interval to the stored validUntil.
// Extending from the stored bound rather than from now keeps delayed renewal
// processing from shortening the customer's paid period. The license returns
// to active regardless of any grace state it drifted into.
func (s *Service) ExtendLicense(ctx context.Context, licenseID uint) (*models.License, error) {
	_ = ctx
	license, err := s.licenses.GetByID(licenseID)
	if err != nil {
		return nil, err
	}

	if license.ValidUntil != nil {
		extended := s.policy.AddInterval(*license.ValidUntil)
		license.ValidUntil = &extended
	}
	license.Status = models.LicenseStatusActive
	if err := s.licenses.Update(license); err != nil {
		return nil, err
	}
	return license, nil
}

// ExpireLicense reconciles a license whose period ended without renewal,
// honoring the grace window.
func (s *Service) ExpireLicense(ctx context.Context, licenseID uint, now time.Time) error {
	_ = ctx
	license, err := s.licenses.GetByID(licenseID)
	if err != nil {
		return err
	}
	return s.reconcileStatus(license, now)
}

// SweepStatuses downgrades all licenses whose stored status lags behind
// their temporal state (active past validUntil, grace past the window).
// Returns the number of rows changed.
func (s *Service) SweepStatuses(ctx context.Context, now time.Time) (int, error) {
	_ = ctx
	due, err := s.licenses.ListDueForStatusSweep(now)
	if err != nil {
		return 0, err
	}

	changed := 0
	for i := range due {
		license := &due[i]
		before := license.Status
		if err := s.reconcileStatus(license, now); err != nil {
			log.Printf("license status sweep failed for id=%d: %v", license.ID, err)
			continue
		}
		if license.Status != before {
			changed++
		}
	}
	return changed, nil
}

func (s *Service) reconcileStatus(license *models.License, now time.Time) error {
	computed := license.TemporalStatus(now, s.policy.GraceWindow)
	if computed == license.Status {
		return nil
	}
	if err := s.licenses.UpdateStatus(license.ID, computed); err != nil {
		return err
	}
	license.Status = computed
	return nil
}

func (s *Service) generateUniqueKey(tier string) (string, error) {
	for attempt := 0; attempt < maxKeyAttempts; attempt++ {
		key, err := GenerateKey(tier)
		if err != nil {
			return "", err
		}
		exists, err := s.licenses.ExistsKey(key)
		if err != nil {
			return "", err
		}
		if !exists {
			return key, nil
		}
	}
	return "", errors.New("could not generate a unique license key")
}

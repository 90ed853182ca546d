package normalizer

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"grantflow/internal/config"
	"grantflow/internal/fx"
	"grantflow/internal/logger"
	"grantflow/internal/metrics"
	"grantflow/internal/models"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 10, 1, 12, 0, 0, 0, time.UTC)

func testRates() *fx.Table {
	return fx.NewTable(fx.ECBBase, 7, []fx.Observation{
		{Code: "USD", Date: time.Date(2018, 12, 31, 0, 0, 0, 0, time.UTC), Rate: decimal.RequireFromString("1.145")},
		{Code: "GBP", Date: time.Date(2018, 12, 31, 0, 0, 0, 0, time.UTC), Rate: decimal.RequireFromString("0.89453")},
	})
}

func newTestNormalizer(opts ...Option) *Normalizer {
	base := []Option{
		WithConverter(fx.NewConverter(testRates())),
		WithClock(func() time.Time { return fixedNow }),
		WithSources([]config.SourceConfig{{
			Name:           "dfg.de",
			FunderOrgName:  "Deutsche Forschungsgemeinschaft",
			FunderOrgRorID: "https://ror.org/018mejw64",
			Enabled:        true,
		}}),
	}

	return New(append(base, opts...)...)
}

func fieldKinds(errs []*models.FieldError) map[string]error {
	out := make(map[string]error, len(errs))
	for _, fe := range errs {
		out[fe.Field] = fe.Kind
	}

	return out
}

func TestNormalize_PublicIDAndSourceDefaults(t *testing.T) {
	n := newTestNormalizer()

	rec, errs := n.Normalize(models.RawFields{
		"source":             "dfg.de",
		"project_id":         "442032008",
		"recipient_org_name": "  Universität   Hamburg ",
		"grant_year":         "2019",
	})

	assert.Empty(t, errs)
	assert.Equal(t, "dfg.de::442032008", rec.GrantID)
	assert.Equal(t, "Deutsche Forschungsgemeinschaft", rec.FunderOrgName)
	assert.Equal(t, "https://ror.org/018mejw64", models.Deref(rec.FunderOrgRorID))
	assert.Equal(t, "Universität Hamburg", rec.RecipientOrgName)
	assert.Equal(t, models.SchemaVersion, rec.SchemaVersion)
	assert.Equal(t, fixedNow, rec.CrawledAt)
	assert.Equal(t, 2019, models.Deref(rec.GrantYear))
}

func TestNormalize_PrefixedIDKept(t *testing.T) {
	rec, _ := newTestNormalizer().Normalize(models.RawFields{
		"source":   "sloan.org",
		"grant_id": "sloan.org::G-2019-11420",
	})

	assert.Equal(t, "sloan.org::G-2019-11420", rec.GrantID)
}

func TestNormalize_SyntheticIDIsReproducible(t *testing.T) {
	n := newTestNormalizer()
	raw := models.RawFields{
		"source":             "templeton.org",
		"recipient_org_name": "University of Oxford",
		"award_amount":       "$1,250.00",
		"grant_year":         "2021",
	}

	first, _ := n.Normalize(raw)
	second, _ := n.Normalize(raw.Clone())

	require.True(t, strings.HasPrefix(first.GrantID, "ioi:templeton.org::"), first.GrantID)
	assert.Equal(t, first.GrantID, second.GrantID)

	// spacing and case of the recipient do not change the id
	respelled := raw.Clone()
	respelled["recipient_org_name"] = "  UNIVERSITY  of oxford"
	third, _ := n.Normalize(respelled)
	assert.Equal(t, first.GrantID, third.GrantID)

	other := raw.Clone()
	other["award_amount"] = "$1,250.01"
	fourth, _ := n.Normalize(other)
	assert.NotEqual(t, first.GrantID, fourth.GrantID)

	assert.Equal(t, SyntheticID("templeton.org", "University of Oxford", "$1,250.00", "2021"), first.GrantID)
}

func TestNormalize_AmountRoundTrip(t *testing.T) {
	n := newTestNormalizer()

	rec, _ := n.Normalize(models.RawFields{"source": "x", "award_amount": "$1,250.00"})
	require.NotNil(t, rec.AwardAmount)
	assert.True(t, rec.AwardAmount.Equal(decimal.RequireFromString("1250.00")))
	assert.Nil(t, rec.AwardCurrency, "$ does not identify a currency")

	rec, _ = n.Normalize(models.RawFields{"source": "x", "award_amount": "1,250"})
	require.NotNil(t, rec.AwardAmount)
	assert.Equal(t, "1250", rec.AwardAmount.String())
}

func TestNormalize_ConvertsAtAwardYear(t *testing.T) {
	rec, errs := newTestNormalizer().Normalize(models.RawFields{
		"source":       "x",
		"award_amount": "€ 1.250,50",
		"grant_year":   2019,
	})

	assert.Empty(t, errs)
	assert.Equal(t, "EUR", models.Deref(rec.AwardCurrency))
	require.NotNil(t, rec.AwardAmountUSD)
	assert.Equal(t, "1431.82", rec.AwardAmountUSD.String())
}

func TestNormalize_ConvertsUsingStartYear(t *testing.T) {
	rec, _ := newTestNormalizer().Normalize(models.RawFields{
		"source":           "x",
		"award_amount":     "1000",
		"award_currency":   " eur ",
		"grant_start_date": "2019-03-01",
	})

	assert.Equal(t, "EUR", models.Deref(rec.AwardCurrency))
	assert.Equal(t, 2019, models.Deref(rec.GrantYear))
	require.NotNil(t, rec.AwardAmountUSD)
	assert.Equal(t, "1145", rec.AwardAmountUSD.String())
}

func TestNormalize_USDIsCopied(t *testing.T) {
	rec, _ := newTestNormalizer().Normalize(models.RawFields{
		"source":         "x",
		"award_amount":   "USD 50,000",
		"grant_year":     "1987",
		"award_currency": "usd",
	})

	require.NotNil(t, rec.AwardAmountUSD)
	assert.Equal(t, "50000", rec.AwardAmountUSD.String())
}

func TestNormalize_PreEuroCurrencyHasNoRate(t *testing.T) {
	m := metrics.New()
	rec, errs := newTestNormalizer(WithMetrics(m)).Normalize(models.RawFields{
		"source":         "x",
		"award_amount":   50000,
		"award_currency": "DEM",
		"grant_year":     1995,
	})

	assert.Nil(t, rec.AwardAmountUSD)
	require.NotNil(t, rec.AwardAmount)
	assert.ErrorIs(t, fieldKinds(errs)["award_amount_usd"], models.ErrRateNotFound)
	assert.InDelta(t, 1, testutil.ToFloat64(m.FXRateMisses.WithLabelValues("DEM")), 0)
}

func TestNormalize_MalformedCurrencyRateMissesShareLabel(t *testing.T) {
	m := metrics.New()
	n := newTestNormalizer(WithMetrics(m))

	for _, currency := range []string{"usd1", "dollars", "N/A"} {
		_, errs := n.Normalize(models.RawFields{
			"source":         "x",
			"award_amount":   100,
			"award_currency": currency,
			"grant_year":     2019,
		})

		assert.ErrorIs(t, fieldKinds(errs)["award_amount_usd"], models.ErrRateNotFound)
	}

	assert.InDelta(t, 3, testutil.ToFloat64(m.FXRateMisses.WithLabelValues("invalid")), 0)
	assert.Equal(t, 1, testutil.CollectAndCount(m.FXRateMisses))
}

func TestNormalize_BadFieldsAreNulled(t *testing.T) {
	var buf bytes.Buffer

	m := metrics.New()
	n := newTestNormalizer(WithLogger(logger.NewLoggerWithWriter(&buf, "info", "json")), WithMetrics(m))

	rec, errs := n.Normalize(models.RawFields{
		"source":             "x",
		"recipient_org_name": "Example College",
		"award_amount":       "to be announced",
		"grant_start_date":   "soon",
		"grant_year":         "n.d.",
		"grant_category":     "Sports",
		"_crawled_at":        "yesterday",
	})

	assert.Nil(t, rec.AwardAmount)
	assert.Nil(t, rec.GrantStartDate)
	assert.Nil(t, rec.GrantYear)
	assert.Nil(t, rec.GrantCategory)
	assert.Equal(t, fixedNow, rec.CrawledAt)
	assert.Equal(t, "Example College", rec.RecipientOrgName)

	kinds := fieldKinds(errs)
	assert.ErrorIs(t, kinds["award_amount"], models.ErrAmountNotNumeric)
	assert.ErrorIs(t, kinds["grant_start_date"], models.ErrDateFormat)
	assert.ErrorIs(t, kinds["grant_year"], models.ErrYearNotInteger)
	assert.ErrorIs(t, kinds["grant_category"], models.ErrSchemaViolation)
	assert.ErrorIs(t, kinds["_crawled_at"], models.ErrDateFormat)

	assert.Contains(t, buf.String(), `"field":"award_amount"`)
	assert.Contains(t, buf.String(), `"level":"WARN"`)
	assert.InDelta(t, 1, testutil.ToFloat64(m.FieldErrors.WithLabelValues("grant_year")), 0)
}

func TestNormalize_NegativeAmount(t *testing.T) {
	rec, errs := newTestNormalizer().Normalize(models.RawFields{"source": "x", "award_amount": "-500"})

	assert.Nil(t, rec.AwardAmount)
	assert.ErrorIs(t, fieldKinds(errs)["award_amount"], models.ErrNegativeAmount)
}

func TestNormalize_EndDateDerivedFromDuration(t *testing.T) {
	n := newTestNormalizer()

	rec, _ := n.Normalize(models.RawFields{
		"source":           "x",
		"grant_start_date": "2021-01-31",
		"duration_months":  1,
	})
	require.NotNil(t, rec.GrantEndDate)
	assert.Equal(t, "2021-02-28", rec.GrantEndDate.String())
	assert.Equal(t, "1 month", models.Deref(rec.GrantDuration))

	rec, _ = n.Normalize(models.RawFields{
		"source":           "x",
		"grant_start_date": "2020-09-01",
		"grant_duration":   "3 years",
	})
	assert.Equal(t, "2023-09-01", rec.GrantEndDate.String())
	assert.Equal(t, "3 years", models.Deref(rec.GrantDuration))

	// an explicit end date wins over the derived one
	rec, _ = n.Normalize(models.RawFields{
		"source":           "x",
		"grant_start_date": "2020-09-01",
		"grant_end_date":   "2021-12-31",
		"duration_months":  "36",
	})
	assert.Equal(t, "2021-12-31", rec.GrantEndDate.String())
}

func TestNormalize_Participants(t *testing.T) {
	rec, errs := newTestNormalizer().Normalize(models.RawFields{
		"source": "x",
		"named_participants": []any{
			map[string]any{
				"first_name":   "Ada",
				"last_name":    "Lovelace",
				"is_pi":        true,
				"affiliations": []any{"University of London", ""},
				"identifiers":  map[string]any{"orcid": "0000-0001-2345-6789"},
			},
			"Charles  Babbage",
			42,
		},
	})

	require.Len(t, rec.NamedParticipants, 2)
	assert.Equal(t, "Ada Lovelace", rec.NamedParticipants[0].FullName)
	assert.True(t, rec.NamedParticipants[0].IsPI)
	assert.Equal(t, []string{"University of London"}, rec.NamedParticipants[0].Affiliations)
	assert.Equal(t, []models.Identifier{{Scheme: "orcid", Value: "0000-0001-2345-6789"}}, rec.NamedParticipants[0].Identifiers)
	assert.Equal(t, "Charles Babbage", rec.NamedParticipants[1].FullName)
	assert.Equal(t, "Ada Lovelace", models.Deref(rec.PiName))
	assert.ErrorIs(t, fieldKinds(errs)["named_participants"], models.ErrParticipantSchemaViolation)
}

func TestNormalize_PiNameFromFirstListedApplicant(t *testing.T) {
	tests := []struct {
		name         string
		participants []any
		want         string
	}{
		{"no flags", []any{map[string]any{"full_name": "Applicant A"}, map[string]any{"full_name": "Applicant B"}}, "Applicant A"},
		{"plain names", []any{"Applicant B", "Applicant A"}, "Applicant B"},
		{"flag wins over order", []any{map[string]any{"full_name": "Applicant A"}, map[string]any{"full_name": "Applicant B", "is_pi": true}}, "Applicant B"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _ := newTestNormalizer().Normalize(models.RawFields{
				"source":             "dfg.de",
				"named_participants": tt.participants,
			})

			assert.Equal(t, tt.want, models.Deref(rec.PiName))
		})
	}
}

func TestNormalize_NoParticipantsNoPiName(t *testing.T) {
	rec, _ := newTestNormalizer().Normalize(models.RawFields{"source": "dfg.de"})
	assert.Nil(t, rec.PiName)
}

func TestNormalize_ExplicitPiNameWins(t *testing.T) {
	rec, _ := newTestNormalizer().Normalize(models.RawFields{
		"source":             "x",
		"pi_name":            "Grace Hopper",
		"named_participants": []any{map[string]any{"full_name": "Someone Else", "is_pi": "yes"}},
	})

	assert.Equal(t, "Grace Hopper", models.Deref(rec.PiName))
}

func TestNormalize_ProgramAndCategory(t *testing.T) {
	rec, _ := newTestNormalizer().Normalize(models.RawFields{
		"source":         "x",
		"program_levels": []any{"Sciences", "", " Physics "},
		"grant_category": "research and development",
	})

	assert.Equal(t, "Sciences>Physics", models.Deref(rec.ProgramOfFunder))
	require.NotNil(t, rec.GrantCategory)
	assert.Equal(t, models.CategoryResearchAndDevelopment, *rec.GrantCategory)

	rec, _ = newTestNormalizer().Normalize(models.RawFields{
		"source":            "x",
		"program_of_funder": "Public Knowledge > > Open Science",
	})
	assert.Equal(t, "Public Knowledge>Open Science", models.Deref(rec.ProgramOfFunder))
}

func TestNormalize_RawSourceData(t *testing.T) {
	n := newTestNormalizer()

	rec, _ := n.Normalize(models.RawFields{"source": "x", "raw_source_data": "<tr><td>verbatim</td></tr>"})
	assert.Equal(t, "<tr><td>verbatim</td></tr>", models.Deref(rec.RawSourceData))

	rec, _ = n.Normalize(models.RawFields{"source": "x", "grant_title": "Title"})
	assert.JSONEq(t, `{"source":"x","grant_title":"Title"}`, models.Deref(rec.RawSourceData))
}

func TestNormalize_CrawledAtFromRaw(t *testing.T) {
	rec, errs := newTestNormalizer().Normalize(models.RawFields{
		"source":      "x",
		"_crawled_at": "2024-03-05T08:09:10Z",
	})

	assert.Empty(t, errs)
	assert.Equal(t, time.Date(2024, 3, 5, 8, 9, 10, 0, time.UTC), rec.CrawledAt)
}

package service

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"briefing_scheduler/internal/domain"
)

var (
	tickerPattern = regexp.MustCompile(`^[A-Z][A-Z0-9.\-]{0,9}$`)
	userIDPattern = regexp.MustCompile(`^[A-Za-z0-9_\-:.]+$`)
)

// PreferencesInput is the validated wire form of domain.Preferences.
type PreferencesInput struct {
	PreferredName   string   `json:"preferred_name" validate:"omitempty,max=64"`
	NewsCategories  []string `json:"news_categories" validate:"max=10,dive,oneof=top business technology science health sports entertainment politics world"`
	StockSymbols    []string `json:"stock_symbols" validate:"max=20,dive,ticker"`
	SportsLeagues   []string `json:"sports_leagues" validate:"max=10,dive,oneof=nfl nba mlb nhl mls epl cricket ncaaf ncaab"`
	SportsTeams     []string `json:"sports_teams" validate:"max=20,dive,min=1,max=64"`
	VoiceID         string   `json:"voice_id" validate:"omitempty,max=64"`
	DurationMinutes int      `json:"duration_minutes" validate:"omitempty,min=1,max=30"`
}

func (p PreferencesInput) toDomain() domain.Preferences {
	return domain.Preferences{
		PreferredName:   p.PreferredName,
		NewsCategories:  p.NewsCategories,
		StockSymbols:    p.StockSymbols,
		SportsLeagues:   p.SportsLeagues,
		SportsTeams:     p.SportsTeams,
		VoiceID:         p.VoiceID,
		DurationMinutes: p.DurationMinutes,
	}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("ticker", func(fl validator.FieldLevel) bool {
		return tickerPattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("userid", func(fl validator.FieldLevel) bool {
		return userIDPattern.MatchString(fl.Field().String())
	})
	v.RegisterStructValidation(validateSchedule, IntakeRequest{})
	return v
}

// validateSchedule checks that scheduled_at lands on local_date, or the day
// before it, in the request's timezone.
func validateSchedule(sl validator.StructLevel) {
	req := sl.Current().Interface().(IntakeRequest)
	if req.ScheduledAt.IsZero() {
		return
	}
	day, err := time.Parse(domain.LocalDateLayout, req.LocalDate)
	if err != nil {
		return
	}
	loc := time.UTC
	if req.Timezone != "" {
		if l, err := time.LoadLocation(req.Timezone); err == nil {
			loc = l
		}
	}
	scheduledDay := req.ScheduledAt.In(loc).Format(domain.LocalDateLayout)
	if scheduledDay != day.Format(domain.LocalDateLayout) && scheduledDay != day.AddDate(0, 0, -1).Format(domain.LocalDateLayout) {
		sl.ReportError(req.ScheduledAt, "scheduled_at", "ScheduledAt", "matchesdate", req.LocalDate)
	}
}

func (s *IntakeService) validateRequest(req IntakeRequest) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	return &ValidationError{Fields: formatValidationErrors(verrs)}
}

func formatValidationErrors(verrs validator.ValidationErrors) []string {
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msg := fmt.Sprintf("field '%s' failed on the '%s' tag", fe.Namespace(), fe.Tag())
		if fe.Param() != "" {
			msg = fmt.Sprintf("%s (param: %s)", msg, fe.Param())
		}
		fields = append(fields, msg)
	}
	return fields
}

// Package recommend maps the quick self-assessment to a suggested persona.
package recommend

import (
	"errors"
	"fmt"
	"slices"

	"github.com/ashureev/wellness/internal/persona"
)

// ErrInvalidAnswer is returned for questionnaire answers outside the offered options.
var ErrInvalidAnswer = errors.New("invalid questionnaire answer")

// Age groups offered by the questionnaire.
const (
	AgeTeen     = "13-17"
	AgeYoung    = "18-25"
	AgeGuardian = "Parent/Guardian"
	AgeOther    = "Other"
)

// Concerns offered by the questionnaire.
const (
	ConcernMentalHealth  = "Mental health"
	ConcernAcademic      = "Academic stress"
	ConcernParenting     = "Parenting"
	ConcernChildDev      = "Child development"
	ConcernCommunication = "Family communication"
)

// Mood scale bounds.
const (
	MoodMin     = 1
	MoodMax     = 10
	defaultMood = 5
)

// AgeGroups lists the age brackets in display order.
var AgeGroups = []string{AgeTeen, AgeYoung, AgeGuardian, AgeOther}

// Concerns lists the concern categories in display order.
var Concerns = []string{ConcernMentalHealth, ConcernAcademic, ConcernParenting, ConcernChildDev, ConcernCommunication}

// Questionnaire is the user's self-report.
type Questionnaire struct {
	AgeGroup string `json:"age_group"`
	Concern  string `json:"concern"`
	Mood     int    `json:"mood"`
}

// DefaultQuestionnaire mirrors the initial form values.
func DefaultQuestionnaire() Questionnaire {
	return Questionnaire{AgeGroup: AgeTeen, Concern: ConcernMentalHealth, Mood: defaultMood}
}

// Validate checks the answers against the offered options.
func (q Questionnaire) Validate() error {
	if !slices.Contains(AgeGroups, q.AgeGroup) {
		return fmt.Errorf("%w: unknown age group %q", ErrInvalidAnswer, q.AgeGroup)
	}
	if !slices.Contains(Concerns, q.Concern) {
		return fmt.Errorf("%w: unknown concern %q", ErrInvalidAnswer, q.Concern)
	}
	if q.Mood < MoodMin || q.Mood > MoodMax {
		return fmt.Errorf("%w: mood must be between %d and %d, got %d", ErrInvalidAnswer, MoodMin, MoodMax, q.Mood)
	}
	return nil
}

// Recommend returns the suggested persona for the questionnaire.
func (q Questionnaire) Recommend() string {
	return Recommend(q.AgeGroup, q.Concern, q.Mood)
}

// Recommend picks a persona ID. First matching rule wins; anything unmatched
// falls through to bridge.
//
// mood is collected but does not influence the result.
func Recommend(ageGroup, concern string, mood int) string {
	_ = mood
	youth := ageGroup == AgeTeen || ageGroup == AgeYoung
	switch {
	case youth && (concern == ConcernMentalHealth || concern == ConcernAcademic):
		return persona.Sage
	case ageGroup == AgeGuardian && (concern == ConcernParenting || concern == ConcernChildDev):
		return persona.Nurture
	case concern == ConcernChildDev:
		return persona.Spark
	default:
		return persona.Bridge
	}
}

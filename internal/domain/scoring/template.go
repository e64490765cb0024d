package scoring

import (
	"fmt"
	"strings"

	"fleetinspect/internal/domain/inspection"
	"fleetinspect/internal/errs"
)

// Weights is the deduction applied per failed item of a tier.
type Weights map[inspection.Tier]int

// DefaultWeights are used for any tier a template does not override.
var DefaultWeights = Weights{
	inspection.TierCritical:    35,
	inspection.TierSafety:      20,
	inspection.TierOperational: 10,
	inspection.TierMinor:       5,
}

// Thresholds split non-critical scores into APROBADO / OBSERVADO / RECHAZADO.
type Thresholds struct {
	Approve int
	Observe int
}

var DefaultThresholds = Thresholds{Approve: 85, Observe: 60}

type TemplateItem struct {
	ID    string
	Label string
	Tier  inspection.Tier
}

type Template struct {
	Code       string
	Name       string
	Weights    Weights
	Thresholds Thresholds
	Items      []TemplateItem
}

func (t Template) Item(itemID string) (TemplateItem, bool) {
	itemID = strings.TrimSpace(itemID)
	for _, item := range t.Items {
		if item.ID == itemID {
			return item, true
		}
	}
	return TemplateItem{}, false
}

func (t Template) Weight(tier inspection.Tier) int {
	if weight, ok := t.Weights[tier]; ok {
		return weight
	}
	return DefaultWeights[tier]
}

func (t Template) thresholds() Thresholds {
	out := t.Thresholds
	if out.Approve <= 0 {
		out.Approve = DefaultThresholds.Approve
	}
	if out.Observe <= 0 {
		out.Observe = DefaultThresholds.Observe
	}
	return out
}

// Validate checks weights, thresholds and item tiers.
func (t Template) Validate() error {
	if strings.TrimSpace(t.Code) == "" {
		return errs.Validation("template.code", "is required")
	}
	for tier, weight := range t.Weights {
		if _, err := inspection.ParseTier(string(tier)); err != nil {
			return err
		}
		if weight < 0 || weight > 100 {
			return errs.Validation("template.weights", fmt.Sprintf("%s weight %d out of range", tier, weight))
		}
	}
	th := t.thresholds()
	if th.Observe > th.Approve || th.Approve > 100 {
		return errs.Validation("template.thresholds", fmt.Sprintf("observe=%d approve=%d", th.Observe, th.Approve))
	}
	seen := make(map[string]struct{}, len(t.Items))
	for _, item := range t.Items {
		if strings.TrimSpace(item.ID) == "" {
			return errs.Validation("template.items", "item id is required")
		}
		if _, dup := seen[item.ID]; dup {
			return errs.Validation("template.items", fmt.Sprintf("duplicate item %q", item.ID))
		}
		seen[item.ID] = struct{}{}
		if _, err := inspection.ParseTier(string(item.Tier)); err != nil {
			return err
		}
	}
	return nil
}

// GeneralTemplate is the built-in checklist used when no catalog file is configured.
func GeneralTemplate() Template {
	return Template{
		Code:       "general",
		Name:       "Inspección general de flota",
		Thresholds: DefaultThresholds,
		Items: []TemplateItem{
			{ID: "brakes", Label: "Frenos de servicio", Tier: inspection.TierCritical},
			{ID: "steering", Label: "Dirección", Tier: inspection.TierCritical},
			{ID: "tyres", Label: "Neumáticos y profundidad de banda", Tier: inspection.TierCritical},
			{ID: "seatbelts", Label: "Cinturones de seguridad", Tier: inspection.TierSafety},
			{ID: "extinguisher", Label: "Extintor vigente", Tier: inspection.TierSafety},
			{ID: "first_aid", Label: "Botiquín", Tier: inspection.TierSafety},
			{ID: "headlights", Label: "Luces delanteras", Tier: inspection.TierOperational},
			{ID: "brake_lights", Label: "Luces de freno", Tier: inspection.TierOperational},
			{ID: "wipers", Label: "Limpiaparabrisas", Tier: inspection.TierOperational},
			{ID: "horn", Label: "Bocina", Tier: inspection.TierOperational},
			{ID: "bodywork", Label: "Carrocería", Tier: inspection.TierMinor},
			{ID: "cabin_cleanliness", Label: "Limpieza de cabina", Tier: inspection.TierMinor},
		},
	}
}

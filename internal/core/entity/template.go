package entity

// TemplateDataSource selects how a template's data tree is produced.
type TemplateDataSource string

const (
	DataSourceSOQL   TemplateDataSource = "SOQL"
	DataSourceCustom TemplateDataSource = "Custom"
)

// Template is the admin-configured template record. The binary behind
// TemplateBinaryID is immutable and content-addressed.
type Template struct {
	ID                string
	Name              string
	DataSource        TemplateDataSource
	Query             string
	ProviderClassName string
	PrimaryParentType string
	TemplateBinaryID  string
}

// CompositeStrategy selects how a composite document is materialized.
type CompositeStrategy string

const (
	StrategyOwnTemplate          CompositeStrategy = "OWN_TEMPLATE"
	StrategyConcatenateTemplates CompositeStrategy = "CONCATENATE_TEMPLATES"
)

// CompositeSlot is one (template, namespace, sequence) entry of a composite
// document. Inactive slots are excluded from materialization.
type CompositeSlot struct {
	Namespace  string
	Sequence   int
	TemplateID string
	IsActive   bool
}

// CompositeDocument is the admin-configured multi-source assembly.
type CompositeDocument struct {
	ID                 string
	Strategy           CompositeStrategy
	TemplateBinaryID   string // required iff Strategy == OWN_TEMPLATE
	IsActive           bool
	PrimaryParentType  string
	StoreMergedDocx    bool
	ReturnDocxToClient bool
	Slots              []CompositeSlot
}

// ActiveSlots returns active slots ordered by ascending sequence. Ordering is
// stable so equal sequences keep their configured order.
func (c *CompositeDocument) ActiveSlots() []CompositeSlot {
	out := make([]CompositeSlot, 0, len(c.Slots))
	for _, s := range c.Slots {
		if s.IsActive {
			out = append(out, s)
		}
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Sequence < out[j-1].Sequence; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// SupportedObject maps an object type to the lookup field an artifact link is
// written through. Artifacts are never linked to object types absent from the
// active set.
type SupportedObject struct {
	ObjectType   string
	LookupField  string
	IsActive     bool
	DisplayOrder int
}

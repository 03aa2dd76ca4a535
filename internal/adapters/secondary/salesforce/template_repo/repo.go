// Package templaterepo reads admin-configured template metadata from the
// record store.
package templaterepo

import (
	"context"
	"fmt"
	"strings"

	"github.com/rendis/docgen-engine/internal/core/entity"
	"github.com/rendis/docgen-engine/internal/core/port"
)

const (
	templateObject  = "DocumentTemplate__c"
	compositeObject = "CompositeDocument__c"
	slotObject      = "CompositeSlot__c"
	supportedObject = "SupportedObjectConfig__c"
)

// Repo implements port.TemplateRepository.
type Repo struct {
	store port.RecordStore
}

func New(store port.RecordStore) *Repo {
	return &Repo{store: store}
}

func (r *Repo) GetTemplate(ctx context.Context, id string) (*entity.Template, error) {
	row, err := r.store.ReadRecord(ctx, templateObject, id, []string{
		"Id", "Name", "DataSource__c", "Query__c", "ProviderClassName__c",
		"PrimaryParentType__c", "TemplateBinaryId__c",
	})
	if err != nil {
		if entity.KindOf(err) == entity.KindTemplateNotFound {
			return nil, entity.WrapError(entity.KindTemplateNotFound, err, "template %s not found", id)
		}
		return nil, fmt.Errorf("loading template %s: %w", id, err)
	}
	return &entity.Template{
		ID:                str(row["Id"]),
		Name:              str(row["Name"]),
		DataSource:        entity.TemplateDataSource(str(row["DataSource__c"])),
		Query:             str(row["Query__c"]),
		ProviderClassName: str(row["ProviderClassName__c"]),
		PrimaryParentType: str(row["PrimaryParentType__c"]),
		TemplateBinaryID:  str(row["TemplateBinaryId__c"]),
	}, nil
}

func (r *Repo) GetComposite(ctx context.Context, id string) (*entity.CompositeDocument, error) {
	row, err := r.store.ReadRecord(ctx, compositeObject, id, []string{
		"Id", "Strategy__c", "TemplateBinaryId__c", "IsActive__c",
		"PrimaryParentType__c", "StoreMergedDocx__c", "ReturnDocxToClient__c",
	})
	if err != nil {
		if entity.KindOf(err) == entity.KindTemplateNotFound {
			return nil, entity.WrapError(entity.KindTemplateNotFound, err, "composite document %s not found", id)
		}
		return nil, fmt.Errorf("loading composite document %s: %w", id, err)
	}

	composite := &entity.CompositeDocument{
		ID:                 str(row["Id"]),
		Strategy:           entity.CompositeStrategy(str(row["Strategy__c"])),
		TemplateBinaryID:   str(row["TemplateBinaryId__c"]),
		IsActive:           boolean(row["IsActive__c"]),
		PrimaryParentType:  str(row["PrimaryParentType__c"]),
		StoreMergedDocx:    boolean(row["StoreMergedDocx__c"]),
		ReturnDocxToClient: boolean(row["ReturnDocxToClient__c"]),
	}

	soql := fmt.Sprintf(
		"SELECT Namespace__c, Sequence__c, TemplateRef__c, IsActive__c"+
			" FROM %s WHERE CompositeDocument__c = '%s' ORDER BY Sequence__c ASC",
		slotObject, strings.ReplaceAll(id, "'", ""))
	rows, err := r.store.Query(ctx, soql)
	if err != nil {
		return nil, fmt.Errorf("loading composite slots: %w", err)
	}
	for _, s := range rows {
		composite.Slots = append(composite.Slots, entity.CompositeSlot{
			Namespace:  str(s["Namespace__c"]),
			Sequence:   intval(s["Sequence__c"]),
			TemplateID: str(s["TemplateRef__c"]),
			IsActive:   boolean(s["IsActive__c"]),
		})
	}
	return composite, nil
}

// SupportedObjects returns the active object-type→lookup-field map ordered
// for display. Callers cache this per request.
func (r *Repo) SupportedObjects(ctx context.Context) ([]entity.SupportedObject, error) {
	soql := fmt.Sprintf(
		"SELECT ObjectType__c, LookupField__c, IsActive__c, DisplayOrder__c"+
			" FROM %s WHERE IsActive__c = true ORDER BY DisplayOrder__c ASC",
		supportedObject)
	rows, err := r.store.Query(ctx, soql)
	if err != nil {
		return nil, fmt.Errorf("loading supported object map: %w", err)
	}
	out := make([]entity.SupportedObject, 0, len(rows))
	for _, row := range rows {
		out = append(out, entity.SupportedObject{
			ObjectType:   str(row["ObjectType__c"]),
			LookupField:  str(row["LookupField__c"]),
			IsActive:     boolean(row["IsActive__c"]),
			DisplayOrder: intval(row["DisplayOrder__c"]),
		})
	}
	return out, nil
}

func (r *Repo) DownloadTemplateBinary(ctx context.Context, contentVersionID string) ([]byte, error) {
	data, err := r.store.DownloadBinary(ctx, contentVersionID)
	if err != nil {
		if entity.KindOf(err) == entity.KindTemplateNotFound {
			return nil, entity.WrapError(entity.KindTemplateNotFound, err, "template binary %s not found", contentVersionID)
		}
		return nil, fmt.Errorf("downloading template binary %s: %w", contentVersionID, err)
	}
	return data, nil
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func boolean(v any) bool {
	b, _ := v.(bool)
	return b
}

func intval(v any) int {
	if f, ok := v.(float64); ok {
		return int(f)
	}
	if n, ok := v.(int); ok {
		return n
	}
	return 0
}

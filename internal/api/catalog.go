package api

import (
	"net/http"

	"github.com/askql/askql/internal/catalog"
)

type catalogColumn struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Nullable    bool   `json:"nullable"`
	Description string `json:"description,omitempty"`
	References  string `json:"references,omitempty"`
}

type catalogTable struct {
	ID          string          `json:"id"`
	Schema      string          `json:"schema,omitempty"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Columns     []catalogColumn `json:"columns"`
}

type catalogRelationship struct {
	From string `json:"from"`
	To   string `json:"to"`
	Type string `json:"type,omitempty"`
}

type reindexRequest struct {
	Force bool `json:"force"`
}

func handleCatalog(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Controller == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "PIPELINE_NOT_CONFIGURED", "question pipeline is not configured", false, nil)
		return
	}
	if err := requireRole(r, RoleAsker); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	c := deps.Controller.Catalog()
	tables := make([]catalogTable, 0, c.Len())
	for _, table := range c.Tables() {
		tables = append(tables, tableView(table))
	}
	relationships := make([]catalogRelationship, 0)
	for _, rel := range c.Relationships() {
		relationships = append(relationships, catalogRelationship{
			From: rel.From.String(),
			To:   rel.To.String(),
			Type: rel.To.Kind,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"name":          c.Name(),
		"tables":        tables,
		"relationships": relationships,
	})
}

func handleReindex(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Reindexer == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "REINDEX_NOT_CONFIGURED", "catalog indexing is not configured", false, nil)
		return
	}
	if err := requireRole(r, RoleCatalogAdmin); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var request reindexRequest
	if !decodeBody(w, r, &request, true) {
		return
	}

	result, err := deps.Reindexer.Refresh(r.Context(), request.Force)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadGateway, "REINDEX_FAILED", "catalog reindex failed", true, map[string]any{
			"details": err.Error(),
			"summary": result,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "completed",
		"summary": result,
	})
}

func tableView(table catalog.Table) catalogTable {
	view := catalogTable{
		ID:          table.ID(),
		Schema:      table.Schema,
		Name:        table.Name,
		Description: table.Description,
		Columns:     make([]catalogColumn, 0, len(table.Columns)),
	}
	for _, column := range table.Columns {
		entry := catalogColumn{
			Name:        column.Name,
			Type:        column.Type,
			Nullable:    column.Nullable,
			Description: column.Description,
		}
		if column.References != nil {
			entry.References = column.References.String()
		}
		view.Columns = append(view.Columns, entry)
	}
	return view
}

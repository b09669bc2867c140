package config

import "github.com/dmitrijs2005/intakevault/internal/models"

// Built-in form identifiers.
const (
	FormGeneric          = "generic"
	FormProjectArtifacts = "upload-project-artifacts"
	FormRFPIProposal     = "usabc-rfpi-proposal"
)

var spreadsheets = []models.VerifiedType{models.TypeXLS, models.TypeXLSX}

// BuiltinForms returns a fresh copy of the forms known without any config
// file. A config file may replace any of them by ID or add new ones.
func BuiltinForms() map[string]models.Form {
	pdf := []models.VerifiedType{models.TypePDF}

	return map[string]models.Form{
		FormGeneric: {
			ID:   FormGeneric,
			Open: true,
		},
		FormProjectArtifacts: {
			ID: FormProjectArtifacts,
			Files: []models.FileField{
				{Name: "architectureDiagram", ArchiveName: "architecture-diagram", Types: pdf, Required: true},
				{Name: "charter", ArchiveName: "charter", Types: []models.VerifiedType{models.TypeDOCX}, Required: true},
			},
			RequiredTags: []string{"project"},
		},
		FormRFPIProposal: {
			ID: FormRFPIProposal,
			Files: []models.FileField{
				{Name: "rfpiProposal", ArchiveName: "rfpi-proposal", Types: pdf, Required: true},
				{Name: "financialDocuments", ArchiveName: "financial-documents", Types: pdf, Required: true},
				{Name: "additionalDocuments", ArchiveName: "additional-documents", Types: pdf, Required: true},
				{Name: "budgetJustification", ArchiveName: "budget-justification", Types: spreadsheets, Required: true},
				{Name: "optionalBudget1", ArchiveName: "optional-budget-tier1", Types: spreadsheets},
				{Name: "optionalBudget2", ArchiveName: "optional-budget-tier2", Types: spreadsheets},
			},
			RequiredFields: []string{"proposalTitle", "entityName", "entityUEI", "email", "firstName", "lastName", "phone"},
			KeyPrefix:      "rfpi-submissions",
		},
	}
}

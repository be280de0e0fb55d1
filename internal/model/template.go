package model

// PhaseType identifies the workflow phase category.
type PhaseType string

const (
	PhaseLead       PhaseType = "lead"
	PhaseDesign     PhaseType = "design"
	PhasePermitting PhaseType = "permitting"
	PhaseExecution  PhaseType = "execution"
	PhaseCloseout   PhaseType = "closeout"
)

// Role tags a line item with the project role accountable for it.
type Role string

const (
	RoleOffice         Role = "office"
	RoleProjectManager Role = "project_manager"
	RoleFieldDirector  Role = "field_director"
	RoleAdministration Role = "administration"
	RoleWorker         Role = "worker"
)

type Phase struct {
	ID           int       `json:"id"`
	PhaseType    PhaseType `json:"phase_type"`
	Name         string    `json:"name"`
	DisplayOrder int       `json:"display_order"`
}

type Section struct {
	ID            int    `json:"id"`
	PhaseID       int    `json:"phase_id"`
	SectionNumber int    `json:"section_number"`
	Name          string `json:"name"`
	DisplayOrder  int    `json:"display_order"`
}

type LineItem struct {
	ID               int    `json:"id"`
	SectionID        int    `json:"section_id"`
	ItemLetter       string `json:"item_letter"`
	Name             string `json:"name"`
	DisplayOrder     int    `json:"display_order"`
	ResponsibleRole  Role   `json:"responsible_role"`
	EstimatedMinutes int    `json:"estimated_minutes"`
	AlertDays        int    `json:"alert_days"`
}

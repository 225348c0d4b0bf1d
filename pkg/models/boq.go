package models

// BOQItem is one line of the bill of quantities.
type BOQItem struct {
	ID       string  `json:"id" yaml:"id" db:"id"`
	Name     string  `json:"name" yaml:"name" db:"name"`
	Qty      float64 `json:"qty" yaml:"qty" db:"qty"`
	Unit     string  `json:"unit,omitempty" yaml:"unit,omitempty" db:"unit"`
	Category string  `json:"category" yaml:"category" db:"category"`
	Area     string  `json:"area,omitempty" yaml:"area,omitempty" db:"area"`
}

// AllocationUnit assigns one instance of a BOQ item to a room.
type AllocationUnit struct {
	ID        string `json:"id" yaml:"id" db:"id"`
	BOQItemID string `json:"boq_item_id" yaml:"boq_item_id" db:"boq_item_id"`
	RoomID    string `json:"room_id" yaml:"room_id" db:"room_id"`
}

// TaskTemplate describes the work a stakeholder performs on every BOQ
// item of a category. An empty Category matches every item.
type TaskTemplate struct {
	ID          string      `json:"id" yaml:"id" db:"id"`
	Category    string      `json:"category" yaml:"category" db:"category"`
	Action      string      `json:"action" yaml:"action" db:"action"`
	Stakeholder Stakeholder `json:"stakeholder" yaml:"stakeholder" db:"stakeholder"`
}

package catalog

import "time"

// Category — категория устройства (smartphone, laptop ...).
type Category struct {
	Slug      string
	Name      string
	SortOrder int
	Active    bool
}

// RepairType — вид ремонта внутри категории. Slug используется в правилах цен.
type RepairType struct {
	Slug           string
	DeviceCategory string
	Name           string
	Synonyms       []string
	SortOrder      int
	Active         bool
	CreatedAt      time.Time
}

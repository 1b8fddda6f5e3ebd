package model

// Animal identifies one catalog item by its fixed ordinal.  Ordinals are
// 1-based and stable across sessions; capacity lines and order lines refer
// to animals by ordinal only and denormalize the label for display.
type Animal struct {
	Ordinal uint32 // position in the catalog, 1..CatalogSize
	Name    string // display label, denormalized onto order lines
}

// Catalog is the fixed set of animals sold in every session.  One
// CapacityLine is created per entry when a session is created.
var Catalog = []Animal{
	{1, "rat"},
	{2, "ox"},
	{3, "tiger"},
	{4, "rabbit"},
	{5, "dragon"},
	{6, "snake"},
	{7, "horse"},
	{8, "goat"},
	{9, "monkey"},
	{10, "rooster"},
	{11, "dog"},
	{12, "pig"},
}

// AnimalName returns the catalog label for an ordinal, or "" when the
// ordinal is outside the catalog.
func AnimalName(ordinal uint32) string {
	if ordinal == 0 || int(ordinal) > len(Catalog) {
		return ""
	}
	return Catalog[ordinal-1].Name
}

// ValidOrdinal reports whether the ordinal refers to a catalog animal.
func ValidOrdinal(ordinal uint32) bool {
	return ordinal >= 1 && int(ordinal) <= len(Catalog)
}

package reports

import (
	"strings"
)

// Region is one selectable constituency.
type Region struct {
	Name    string `json:"name"`
	Matchup string `json:"matchup,omitempty"`

	// Featured regions are the headline battles shown in the side list.
	Featured bool `json:"featured"`
}

// PulseKey is the cache key of the national sentiment report.
const PulseKey = "national"

var battles = []Region{
	{Name: "Jhapa 5", Matchup: "Balen Shah vs. KP Oli", Featured: true},
	{Name: "Sarlahi 4", Matchup: "Gagan Thapa vs. Amresh Singh", Featured: true},
	{Name: "Chitwan 2", Matchup: "Rabi Lamichhane vs. NC/UML", Featured: true},
	{Name: "Gorkha 2", Matchup: "Prachanda vs. Madhav Devkota", Featured: true},
	{Name: "Sunsari 1", Matchup: "Harka Sampang vs. Major Parties", Featured: true},
	{Name: "Jhapa 3", Matchup: "Rajendra Lingden vs. NC", Featured: true},
	{Name: "Chitwan 3", Matchup: "Sobita Gautam vs. Renu Dahal", Featured: true},
	{Name: "Tanahun 1", Matchup: "Swarnim Wagle vs. Govinda Bhattarai", Featured: true},
	{Name: "Kathmandu 1", Matchup: "Pukar Bam vs. Prakash Man Singh", Featured: true},
	{Name: "Kathmandu 4", Matchup: "Dr. Toshima Karki vs. Nain Singh Mahar", Featured: true},
}

// constituencies outside the featured list that can still be analyzed.
var constituencies = []Region{
	{Name: "Kaski 2"},
}

// Registry is the fixed set of regions the service answers for.
type Registry struct {
	list   []Region
	byName map[string]Region
}

// NewRegistry indexes regions by case-insensitive name. Later duplicates are dropped.
func NewRegistry(regions ...Region) *Registry {
	r := &Registry{byName: make(map[string]Region, len(regions))}
	for _, reg := range regions {
		k := foldName(reg.Name)
		if k == "" {
			continue
		}
		if _, dup := r.byName[k]; dup {
			continue
		}
		r.byName[k] = reg
		r.list = append(r.list, reg)
	}
	return r
}

// DefaultRegistry holds the featured battles followed by the other constituencies.
func DefaultRegistry() *Registry {
	all := make([]Region, 0, len(battles)+len(constituencies))
	all = append(all, battles...)
	all = append(all, constituencies...)
	return NewRegistry(all...)
}

// Lookup finds a region by name, ignoring case and surrounding space.
func (r *Registry) Lookup(name string) (Region, bool) {
	reg, ok := r.byName[foldName(name)]
	return reg, ok
}

// All returns the regions in registration order.
func (r *Registry) All() []Region {
	return append([]Region(nil), r.list...)
}

func foldName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

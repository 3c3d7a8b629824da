package catalog

// Careers offered when tagging a project.
var Careers = []string{
	"Ingeniería en Sistemas Computacionales",
	"Mecatrónica",
	"Ingeniería en Sistemas Automotrices",
	"Arquitectura",
	"Contabilidad",
}

// Types of academic work.
var Types = []string{
	"Informe de Investigación",
	"Proyecto de Investigación",
}

// Year bounds accepted on projects.
const (
	MinYear = 2020
	MaxYear = 2030
)

// Years lists every selectable year in ascending order.
func Years() []int {
	out := make([]int, 0, MaxYear-MinYear+1)
	for y := MinYear; y <= MaxYear; y++ {
		out = append(out, y)
	}
	return out
}

// ValidCareer reports whether career is one of Careers.
func ValidCareer(career string) bool {
	return contains(Careers, career)
}

// ValidType reports whether t is one of Types.
func ValidType(t string) bool {
	return contains(Types, t)
}

// ValidYear reports whether year is within the selectable range.
func ValidYear(year int) bool {
	return year >= MinYear && year <= MaxYear
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

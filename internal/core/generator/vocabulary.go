package generator

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Vocabulary is the raw material strategies draw from, plus the observed
// average yield (records per call) used to weight each strategy.
type Vocabulary struct {
	Surnames         []string         `yaml:"surnames"`
	Streets          []string         `yaml:"streets"`
	Neighborhoods    []string         `yaml:"neighborhoods"`
	BusinessSuffixes []string         `yaml:"business_suffixes"`
	PropertyTypes    []string         `yaml:"property_types"`
	Yields           map[Kind]float64 `yaml:"yields"`
}

// DefaultYields are average records returned per search, measured per strategy.
// Street names return the most rows; qualified business names the fewest.
var DefaultYields = map[Kind]float64{
	KindSurname:      72,
	KindStreetName:   118,
	KindNeighborhood: 41,
	KindBusiness:     23,
	KindPropertyType: 56,
}

func DefaultVocabulary() Vocabulary {
	yields := make(map[Kind]float64, len(DefaultYields))
	for k, v := range DefaultYields {
		yields[k] = v
	}
	return Vocabulary{
		Surnames: []string{
			"Smith", "Johnson", "Williams", "Brown", "Jones", "Garcia", "Miller", "Davis",
			"Rodriguez", "Martinez", "Hernandez", "Lopez", "Gonzalez", "Wilson", "Anderson",
			"Thomas", "Taylor", "Moore", "Jackson", "Martin", "Lee", "Perez", "Thompson",
			"White", "Harris", "Sanchez", "Clark", "Ramirez", "Lewis", "Robinson", "Walker",
			"Young", "Allen", "King", "Wright", "Scott", "Torres", "Nguyen", "Hill", "Flores",
			"Green", "Adams", "Nelson", "Baker", "Hall", "Rivera", "Campbell", "Mitchell",
			"Carter", "Roberts", "Gomez", "Phillips", "Evans", "Turner", "Diaz", "Parker",
			"Cruz", "Edwards", "Collins", "Reyes", "Stewart", "Morris", "Morales", "Murphy",
			"Cook", "Rogers", "Gutierrez", "Ortiz", "Morgan", "Cooper", "Peterson", "Bailey",
			"Reed", "Kelly", "Howard", "Ramos", "Kim", "Cox", "Ward", "Richardson", "Watson",
			"Brooks", "Chavez", "Wood", "Bennett", "Gray", "Mendoza", "Ruiz", "Hughes",
		},
		Streets: []string{
			"Oak", "Lamar", "Congress", "Guadalupe", "Burnet", "Cameron", "Manor", "Airport",
			"Riverside", "Oltorf", "Slaughter", "Parmer", "Braker", "Rundberg", "Anderson Mill",
			"Pleasant Valley", "Cesar Chavez", "Barton Springs", "Bee Caves", "Spicewood Springs",
			"Far West", "Koenig", "Enfield", "Windsor", "Duval", "Red River", "Springdale",
			"Johnny Morris", "Decker", "Dessau", "Metric", "Mopac", "Brodie", "Menchaca",
			"Manchaca", "William Cannon", "Stassney", "Ben White", "Wells Branch", "Howard",
			"Cedar", "Elm", "Pecan", "Mesquite", "Live Oak", "Magnolia", "Willow", "Hickory",
			"Sycamore", "Maple", "Walnut", "Juniper", "Cypress", "Redbud", "Bluebonnet",
			"Highland", "Ridge", "Hillside", "Lakeview", "Meadow",
		},
		Neighborhoods: []string{
			"Hyde Park", "Travis Heights", "Zilker", "Bouldin", "Clarksville", "Tarrytown",
			"Mueller", "Cherrywood", "Crestview", "Allandale", "Brentwood", "Rosedale",
			"Barton Hills", "Circle C", "Westlake", "Steiner Ranch", "Avery Ranch", "Windsor Park",
			"Montopolis", "Dove Springs", "Onion Creek", "Shady Hollow", "Pemberton",
			"Bryker Woods", "Old West Austin", "East Cesar Chavez", "Holly", "Govalle",
			"Wells Branch", "Jollyville", "Great Hills", "Balcones", "Northwest Hills",
			"Riverside", "Parker Lane", "South Lamar", "Galindo", "Sunset Valley",
		},
		BusinessSuffixes: []string{
			"LLC", "Inc", "Trust", "LP", "Ltd", "Properties", "Holdings", "Investments",
			"Partners", "Family", "Estate", "Company", "Corp", "Group", "Realty", "Ventures",
		},
		PropertyTypes: []string{
			"Condominium", "Duplex", "Triplex", "Fourplex", "Townhome", "Mobile Home",
			"Vacant Land", "Apartment", "Warehouse", "Office", "Retail", "Church", "School",
			"Ranch", "Acreage", "Commercial", "Industrial", "Parking", "Hotel", "Storage",
		},
		Yields: yields,
	}
}

// LoadVocabulary reads a YAML override file on top of DefaultVocabulary.
// Lists present in the file replace the defaults; yields are merged per kind.
func LoadVocabulary(path string) (Vocabulary, error) {
	v := DefaultVocabulary()
	if path == "" {
		return v, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return v, fmt.Errorf("read vocabulary %s: %w", path, err)
	}
	var override Vocabulary
	if err := yaml.Unmarshal(b, &override); err != nil {
		return v, fmt.Errorf("parse vocabulary %s: %w", path, err)
	}
	if len(override.Surnames) > 0 {
		v.Surnames = override.Surnames
	}
	if len(override.Streets) > 0 {
		v.Streets = override.Streets
	}
	if len(override.Neighborhoods) > 0 {
		v.Neighborhoods = override.Neighborhoods
	}
	if len(override.BusinessSuffixes) > 0 {
		v.BusinessSuffixes = override.BusinessSuffixes
	}
	if len(override.PropertyTypes) > 0 {
		v.PropertyTypes = override.PropertyTypes
	}
	for k, y := range override.Yields {
		if !k.valid() {
			return v, fmt.Errorf("parse vocabulary %s: unknown strategy %q", path, k)
		}
		if y < 0 {
			return v, fmt.Errorf("parse vocabulary %s: negative yield for %s", path, k)
		}
		v.Yields[k] = y
	}
	return v, nil
}

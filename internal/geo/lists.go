package geo

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Lists configures the catchment area.
type Lists struct {
	CapitalRegion           string   `yaml:"capital_region"`
	SecondaryRegion         string   `yaml:"secondary_region"`
	WhitelistNames          []string `yaml:"whitelist_names"`
	WhitelistPostalPrefixes []string `yaml:"whitelist_postal_prefixes"`
	BlacklistNames          []string `yaml:"blacklist_names"`
	BlacklistPostalPrefixes []string `yaml:"blacklist_postal_prefixes"`
}

// DefaultLists returns the built-in catchment: Vienna plus the commuter belt
// of Lower Austria within a short drive.
func DefaultLists() Lists {
	return Lists{
		CapitalRegion:   "wien",
		SecondaryRegion: "niederoesterreich",
		WhitelistNames: []string{
			"klosterneuburg", "mödling", "moedling", "perchtoldsdorf",
			"brunn am gebirge", "maria enzersdorf", "wiener neudorf", "vösendorf",
			"schwechat", "gerasdorf", "purkersdorf", "korneuburg",
			"langenzersdorf", "bisamberg", "leopoldsdorf", "himberg",
			"groß-enzersdorf", "gross-enzersdorf", "deutsch-wagram", "strasshof",
			"breitenfurt", "gießhübl", "hinterbrühl", "guntramsdorf",
			"laxenburg", "biedermannsdorf", "pressbaum", "tullnerbach",
		},
		WhitelistPostalPrefixes: []string{
			"2340", "2344", "2345", "2351", "2371", "2372", "2380", "2384",
			"2320", "2201", "2100", "2103", "3002", "3003", "3011", "3400",
			"2301", "2231", "2232", "2333", "2353", "2361", "2325", "2331",
		},
		BlacklistNames: []string{
			"st. pölten", "sankt pölten", "st. poelten", "krems", "wiener neustadt",
			"amstetten", "melk", "zwettl", "gmünd", "waidhofen", "scheibbs",
			"lilienfeld", "neunkirchen", "hollabrunn", "mistelbach",
		},
		BlacklistPostalPrefixes: []string{
			"3100", "3500", "2700", "3300", "3390", "2620", "2020", "2130",
			"36", "39",
		},
	}
}

// LoadLists reads lists from a YAML file. Sections missing from the file keep
// the built-in defaults.
func LoadLists(path string) (Lists, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Lists{}, eris.Wrapf(err, "geo: read lists file %s", path)
	}

	var fromFile Lists
	if err := yaml.Unmarshal(data, &fromFile); err != nil {
		return Lists{}, eris.Wrapf(err, "geo: parse lists file %s", path)
	}

	l := DefaultLists()
	if fromFile.CapitalRegion != "" {
		l.CapitalRegion = fromFile.CapitalRegion
	}
	if fromFile.SecondaryRegion != "" {
		l.SecondaryRegion = fromFile.SecondaryRegion
	}
	if fromFile.WhitelistNames != nil {
		l.WhitelistNames = fromFile.WhitelistNames
	}
	if fromFile.WhitelistPostalPrefixes != nil {
		l.WhitelistPostalPrefixes = fromFile.WhitelistPostalPrefixes
	}
	if fromFile.BlacklistNames != nil {
		l.BlacklistNames = fromFile.BlacklistNames
	}
	if fromFile.BlacklistPostalPrefixes != nil {
		l.BlacklistPostalPrefixes = fromFile.BlacklistPostalPrefixes
	}
	return l, nil
}

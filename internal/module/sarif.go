package module

// Minimal SARIF 2.1.0 document model, enough for result export.

type SarifReport struct {
	Schema  string     `json:"$schema"`
	Version string     `json:"version"`
	Runs    []SarifRun `json:"runs"`
}

type SarifRun struct {
	Tool    SarifTool     `json:"tool"`
	Results []SarifResult `json:"results"`
}

type SarifTool struct {
	Driver SarifDriver `json:"driver"`
}

type SarifDriver struct {
	Name    string      `json:"name"`
	Version string      `json:"version,omitempty"`
	Rules   []SarifRule `json:"rules,omitempty"`
}

type SarifRule struct {
	ID               string        `json:"id"`
	Name             string        `json:"name,omitempty"`
	ShortDescription *SarifMessage `json:"shortDescription,omitempty"`
}

type SarifResult struct {
	RuleID    string          `json:"ruleId"`
	Level     string          `json:"level"`
	Message   SarifMessage    `json:"message"`
	Locations []SarifLocation `json:"locations,omitempty"`
}

type SarifMessage struct {
	Text string `json:"text"`
}

type SarifLocation struct {
	PhysicalLocation SarifPhysicalLocation `json:"physicalLocation"`
}

type SarifPhysicalLocation struct {
	ArtifactLocation SarifArtifactLocation `json:"artifactLocation"`
	Region           *SarifRegion          `json:"region,omitempty"`
}

type SarifArtifactLocation struct {
	URI string `json:"uri"`
}

type SarifRegion struct {
	StartLine int `json:"startLine"`
	EndLine   int `json:"endLine,omitempty"`
}

// sarifLevel maps finding severities onto the three SARIF levels.
func sarifLevel(sev Severity) string {
	switch sev {
	case SeverityCritical, SeverityHigh:
		return "error"
	case SeverityMedium:
		return "warning"
	default:
		return "note"
	}
}

// ToSarif renders a Result as a single-run SARIF 2.1.0 report. Each
// distinct finding category becomes a rule.
func ToSarif(res *Result) SarifReport {
	run := SarifRun{
		Tool: SarifTool{Driver: SarifDriver{
			Name:    res.Module,
			Version: res.Version,
		}},
		Results: []SarifResult{},
	}

	seen := map[string]bool{}
	for _, f := range res.Findings {
		ruleID := f.Category
		if ruleID == "" {
			ruleID = "finding"
		}
		if !seen[ruleID] {
			seen[ruleID] = true
			run.Tool.Driver.Rules = append(run.Tool.Driver.Rules, SarifRule{
				ID:   ruleID,
				Name: ruleID,
			})
		}

		sr := SarifResult{
			RuleID:  ruleID,
			Level:   sarifLevel(f.Severity),
			Message: SarifMessage{Text: f.Title + ": " + f.Description},
		}
		if f.FilePath != "" {
			loc := SarifLocation{PhysicalLocation: SarifPhysicalLocation{
				ArtifactLocation: SarifArtifactLocation{URI: f.FilePath},
			}}
			if f.LineStart > 0 {
				loc.PhysicalLocation.Region = &SarifRegion{
					StartLine: f.LineStart,
					EndLine:   f.LineEnd,
				}
			}
			sr.Locations = append(sr.Locations, loc)
		}
		run.Results = append(run.Results, sr)
	}

	return SarifReport{
		Schema:  "https://raw.githubusercontent.com/oasis-tcs/sarif-spec/master/Schemata/sarif-schema-2.1.0.json",
		Version: "2.1.0",
		Runs:    []SarifRun{run},
	}
}

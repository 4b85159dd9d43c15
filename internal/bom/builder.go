package bom

import (
	"io"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	cdx "github.com/CycloneDX/cyclonedx-go"
	"github.com/google/uuid"

	"github.com/CZERTAINLY/scangate/internal/model"
)

var version string

func init() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		version = "unknown"
	} else {
		version = info.Main.Version
	}
}

const (
	propPrefix = "scangate:"
	sourceName = "InsightAppSec"
)

// Builder is a builder pattern for a CycloneDX vulnerability disclosure
// report (VDR)
type Builder struct {
	authors         []cdx.OrganizationalContact
	components      []cdx.Component
	vulnerabilities []cdx.Vulnerability
	properties      []cdx.Property
	now             func() time.Time
}

func NewBuilder() *Builder {
	return &Builder{
		// those MUST be initialized as cyclone-dx JSON schema do not allow items to be null
		components:      []cdx.Component{},
		vulnerabilities: []cdx.Vulnerability{},
		properties:      []cdx.Property{},
		now:             time.Now,
	}
}

// WithNow replaces the clock used for the metadata timestamp.
func (b *Builder) WithNow(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) AppendAuthors(authors ...cdx.OrganizationalContact) *Builder {
	b.authors = append(b.authors, authors...)
	return b
}

func (b *Builder) AppendComponents(components ...cdx.Component) *Builder {
	b.components = append(b.components, components...)
	return b
}

func (b *Builder) AppendVulnerabilities(vulnerabilities ...cdx.Vulnerability) *Builder {
	b.vulnerabilities = append(b.vulnerabilities, vulnerabilities...)
	return b
}

func (b *Builder) AppendProperties(properties ...cdx.Property) *Builder {
	b.properties = append(b.properties, properties...)
	return b
}

// AppendResults adds the scanned applications as components and every
// vulnerability affecting them. Execution details become BOM properties.
func (b *Builder) AppendResults(res *model.ScanResults) *Builder {
	if res == nil {
		return b
	}
	d := res.ExecutionDetails
	b.AppendProperties(
		prop("scan_id", res.ScanID.String()),
		prop("links_crawled", strconv.FormatInt(d.LinksCrawled, 10)),
		prop("attacked", strconv.FormatInt(d.Attacked, 10)),
		prop("requests", strconv.FormatInt(d.Requests, 10)),
		prop("failed_requests", strconv.FormatInt(d.FailedRequests, 10)),
		prop("network_speed", strconv.FormatInt(d.NetworkSpeed, 10)),
		prop("drip_delay", strconv.FormatInt(d.DripDelay, 10)),
	)

	apps := make(map[string]struct{})
	for _, v := range res.Vulnerabilities {
		ref := appRef(v.App)
		if _, ok := apps[ref]; !ok {
			apps[ref] = struct{}{}
			name := "unknown"
			if v.App != nil && v.App.ID != "" {
				name = v.App.ID
			}
			b.AppendComponents(cdx.Component{
				BOMRef: ref,
				Type:   cdx.ComponentTypeApplication,
				Name:   name,
			})
		}
		b.AppendVulnerabilities(vulnerability(v, ref))
	}
	return b
}

func appRef(app *model.Ref) string {
	if app == nil || app.ID == "" {
		return "app/unknown"
	}
	return "app/" + app.ID
}

func vulnerability(v model.Vulnerability, ref string) cdx.Vulnerability {
	props := []cdx.Property{
		prop("root_cause.url", v.RootCause.URL),
		prop("root_cause.parameter", v.RootCause.Parameter),
		prop("root_cause.method", v.RootCause.Method),
		prop("variances", strconv.Itoa(v.VariancesCount)),
		prop("newly_discovered", strconv.FormatBool(v.NewlyDiscovered)),
	}
	if v.Status != "" {
		props = append(props, prop("status", v.Status))
	}
	if v.Insight != nil && v.Insight.ID != "" {
		props = append(props, prop("insight", v.Insight.ID))
	}

	ret := cdx.Vulnerability{
		BOMRef: "vuln/" + v.ID,
		ID:     v.ID,
		Source: &cdx.Source{Name: sourceName},
		Ratings: &[]cdx.VulnerabilityRating{
			{
				Source:   &cdx.Source{Name: sourceName},
				Severity: severity(v.Severity),
				Method:   cdx.ScoringMethodOther,
			},
		},
		Description: description(v),
		Affects:     &[]cdx.Affects{{Ref: ref}},
		Properties:  &props,
	}
	if v.FirstDiscovered != nil {
		ret.Created = v.FirstDiscovered.UTC().Format(time.RFC3339)
	}
	if v.LastDiscovered != nil {
		ret.Updated = v.LastDiscovered.UTC().Format(time.RFC3339)
	}
	return ret
}

func description(v model.Vulnerability) string {
	rc := v.RootCause
	if rc.URL == "" {
		return ""
	}
	var sb strings.Builder
	if rc.Method != "" {
		sb.WriteString(rc.Method)
		sb.WriteString(" ")
	}
	sb.WriteString(rc.URL)
	if rc.Parameter != "" {
		sb.WriteString(" parameter ")
		sb.WriteString(rc.Parameter)
	}
	return sb.String()
}

func severity(s string) cdx.Severity {
	switch strings.ToUpper(s) {
	case "CRITICAL":
		return cdx.SeverityCritical
	case "HIGH":
		return cdx.SeverityHigh
	case "MEDIUM":
		return cdx.SeverityMedium
	case "LOW":
		return cdx.SeverityLow
	case "INFORMATIONAL", "INFO":
		return cdx.SeverityInfo
	case "SAFE":
		return cdx.SeverityNone
	}
	return cdx.SeverityUnknown
}

func prop(name, value string) cdx.Property {
	return cdx.Property{Name: propPrefix + name, Value: value}
}

// BOM returns a cdx.BOM based on a data inside the Builder
func (b *Builder) BOM() cdx.BOM {
	bom := cdx.BOM{
		JSONSchema:   "https://cyclonedx.org/schema/bom-1.6.schema.json",
		BOMFormat:    "CycloneDX",
		SpecVersion:  cdx.SpecVersion1_6,
		SerialNumber: "urn:uuid:" + uuid.New().String(),
		Version:      1,
		Metadata: &cdx.Metadata{
			Timestamp: b.now().UTC().Format(time.RFC3339),
			Lifecycles: &[]cdx.Lifecycle{
				{
					Phase: "operations",
				},
			},
			Authors: &b.authors,
			// This can't be not nil otherwise this error will happen
			// json: error calling MarshalJSON for type *cyclonedx.ToolsChoice: unexpected end of JSON input
			Component: &cdx.Component{
				Type:    "application",
				Name:    "scangate",
				Version: version,
				Manufacturer: &cdx.OrganizationalEntity{
					Name:    "CZERTAINLY",
					Address: &cdx.PostalAddress{},
					URL: &[]string{
						"https://www.czertainly.com",
					},
				},
			},
		},
		Components:      &b.components,
		Vulnerabilities: &b.vulnerabilities,
		Properties:      &b.properties,
	}
	return bom
}

// AsJSON encode the BOM into JSON format
func (b *Builder) AsJSON(w io.Writer) error {
	bom := b.BOM()
	return cdx.NewBOMEncoder(w, cdx.BOMFileFormatJSON).SetPretty(true).Encode(&bom)
}

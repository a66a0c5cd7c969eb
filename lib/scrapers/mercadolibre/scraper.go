// Package mercadolibre extracts structured product data from
// MercadoLibre product pages, either live or from saved HTML dumps.
package mercadolibre

import (
	"context"
	"os"
	"regexp"
	"strings"

	"catalogsync-backend/lib/htmlutil"

	"github.com/PuerkitoBio/goquery"
	"github.com/antzucaro/matchr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("scrapers/mercadolibre")

type Product struct {
	Name         string
	Brand        string
	UnitsPerPack string
	NetVolume    string

	Flavor      string
	Format      string
	GlutenFree  bool
	Vegan       bool
	Whitening   bool
	ForChildren bool
	ParabenFree bool

	OperationNoticeNumber string
	ShelfLife             string

	FullDescription string
	SourceURL       string

	Benefits           []string
	NaturalIngredients []string
	ExcludedChemicals  []string
	Categories         []string
	Images             []string
}

// Config is the store-editable part of the extraction rules: extra
// specification-label aliases on top of the built-in Spanish ones.
type Config struct {
	LabelAliases map[string]string `json:"label_aliases"`
}

// canonical field keys the label mapper resolves to
const (
	fieldBrand           = "brand"
	fieldFormat          = "format"
	fieldNetVolume       = "net_volume"
	fieldFlavor          = "flavor"
	fieldBenefits        = "benefits"
	fieldForChildren     = "for_children"
	fieldGlutenFree      = "gluten_free"
	fieldParabenFree     = "paraben_free"
	fieldVegan           = "vegan"
	fieldShelfLife       = "shelf_life"
	fieldOperationNotice = "operation_notice_number"
	fieldUnitsPerPack    = "units_per_pack"
)

var defaultLabels = map[string]string{
	"marca":                             fieldBrand,
	"formato":                           fieldFormat,
	"volumen neto":                      fieldNetVolume,
	"sabor":                             fieldFlavor,
	"beneficios":                        fieldBenefits,
	"infantil":                          fieldForChildren,
	"libre de gluten":                   fieldGlutenFree,
	"libre de parabenos":                fieldParabenFree,
	"vegano":                            fieldVegan,
	"vida útil":                         fieldShelfLife,
	"número de aviso de funcionamiento": fieldOperationNotice,
	"unidades por pack":                 fieldUnitsPerPack,
}

const fuzzyLabelThreshold = 0.92

type Scraper struct {
	client *Client
	labels map[string]string
}

func NewScraper(client *Client, config Config) *Scraper {
	labels := map[string]string{}
	for label, field := range defaultLabels {
		labels[label] = field
	}
	for label, field := range config.LabelAliases {
		labels[normalizeLabel(label)] = field
	}
	return &Scraper{client: client, labels: labels}
}

func normalizeLabel(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// mapLabel resolves a scraped specification label to a canonical field
// key. Exact and substring matches come first, then a Jaro-Winkler
// comparison to absorb small spelling differences between stores.
func (s *Scraper) mapLabel(label string) (string, bool) {
	label = normalizeLabel(label)
	if label == "" {
		return "", false
	}
	if field, ok := s.labels[label]; ok {
		return field, true
	}
	for known, field := range s.labels {
		if strings.Contains(label, known) {
			return field, true
		}
	}

	bestField := ""
	bestScore := 0.0
	for known, field := range s.labels {
		score := matchr.JaroWinkler(label, known, false)
		if score > bestScore {
			bestScore = score
			bestField = field
		}
	}
	if bestScore >= fuzzyLabelThreshold {
		return bestField, true
	}
	return "", false
}

// ExtractURL fetches a live product page and extracts it.
func (s *Scraper) ExtractURL(ctx context.Context, url string) (Product, error) {
	ctx, span := tracer.Start(ctx, "ExtractURL")
	defer span.End()

	doc, err := s.client.FetchDocument(ctx, url)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Product{}, err
	}
	product := s.ExtractDocument(ctx, doc)
	product.SourceURL = url
	return product, nil
}

// ExtractFile extracts a product from a saved HTML dump.
func (s *Scraper) ExtractFile(ctx context.Context, path string) (Product, error) {
	ctx, span := tracer.Start(ctx, "ExtractFile")
	defer span.End()

	f, err := os.Open(path)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Product{}, err
	}
	defer f.Close()

	doc, err := goquery.NewDocumentFromReader(f)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Product{}, err
	}
	return s.ExtractDocument(ctx, doc), nil
}

func (s *Scraper) ExtractDocument(ctx context.Context, doc *goquery.Document) Product {
	ctx, span := tracer.Start(ctx, "ExtractDocument")
	defer span.End()

	product := Product{
		Name:   htmlutil.CleanText(doc.Find("h1.ui-pdp-title").First().Text()),
		Images: extractImages(doc),
	}

	for _, feature := range extractHighlightedFeatures(doc) {
		s.applyFeature(&product, feature)
	}
	for label, value := range extractSpecifications(doc) {
		s.applySpecification(&product, label, value)
	}

	product.Categories = extractCategories(doc)
	product.FullDescription = extractDescription(doc)
	if product.FullDescription != "" {
		product.NaturalIngredients, product.ExcludedChemicals =
			extractComposition(product.FullDescription)
	}

	return product
}

func extractImages(doc *goquery.Document) []string {
	var images []string
	seen := map[string]bool{}

	doc.Find("img.ui-pdp-image").Each(func(_ int, sel *goquery.Selection) {
		src, ok := sel.Attr("src")
		if !ok || src == "" {
			src, _ = sel.Attr("data-zoom")
		}
		if src == "" || strings.HasPrefix(src, "data:image/gif") {
			return
		}
		clean := cleanImageURL(src)
		if clean != "" && !seen[clean] {
			seen[clean] = true
			images = append(images, clean)
		}
	})

	return images
}

const imageBaseDomain = "https://http2.mlstatic.com"

// rewrites gallery urls to the highest quality non-webp variant
func cleanImageURL(url string) string {
	if url == "" {
		return ""
	}
	if strings.Contains(url, "webp") {
		url = strings.ReplaceAll(url, ".webp", ".jpg")
		url = strings.ReplaceAll(url, "D_Q_NP", "D_NQ_NP")
		url = strings.ReplaceAll(url, "-R.", "-F.")
	}
	if strings.HasPrefix(url, "//") {
		url = "https:" + url
	} else if strings.HasPrefix(url, "/") {
		url = imageBaseDomain + url
	}
	return url
}

func extractHighlightedFeatures(doc *goquery.Document) []string {
	var features []string
	doc.Find("ul.ui-vpp-highlighted-specs__features-list li.ui-vpp-highlighted-specs__features-list-item").
		Each(func(_ int, sel *goquery.Selection) {
			text := htmlutil.CleanText(sel.Text())
			if text != "" {
				features = append(features, text)
			}
		})
	return features
}

func extractSpecifications(doc *goquery.Document) map[string]string {
	specs := map[string]string{}

	doc.Find("div.ui-vpp-highlighted-specs__key-value").Each(func(_ int, sel *goquery.Selection) {
		text := htmlutil.CleanText(sel.Find("div.ui-vpp-highlighted-specs__key-value__labels").Text())
		label, value, found := strings.Cut(text, ":")
		if found && strings.TrimSpace(label) != "" && strings.TrimSpace(value) != "" {
			specs[strings.TrimSpace(label)] = strings.TrimSpace(value)
		}
	})

	doc.Find("table.andes-table").Each(func(_ int, table *goquery.Selection) {
		headers := table.Find("th.andes-table__header")
		values := table.Find("td.andes-table__column")
		headers.Each(func(i int, header *goquery.Selection) {
			if i >= values.Length() {
				return
			}
			label := htmlutil.CleanText(header.Text())
			value := htmlutil.CleanText(values.Eq(i).Text())
			if label != "" && value != "" {
				specs[label] = value
			}
		})
	})

	return specs
}

func extractCategories(doc *goquery.Document) []string {
	var categories []string
	doc.Find("a.andes-breadcrumb__link").Each(func(_ int, sel *goquery.Selection) {
		text := htmlutil.CleanText(sel.Text())
		if text != "" {
			categories = append(categories, text)
		}
	})
	return categories
}

func extractDescription(doc *goquery.Document) string {
	content := doc.Find(`div.ui-pdp-description p[data-testid="content"]`).First()
	if content.Length() == 0 {
		return ""
	}
	return strings.TrimSpace(content.Text())
}

// highlighted features mix "Label: value" entries with bare claims like
// "libre de gluten"
func (s *Scraper) applyFeature(product *Product, feature string) {
	if label, value, found := strings.Cut(feature, ":"); found {
		s.applySpecification(product, label, strings.TrimSpace(value))
		return
	}

	lower := strings.ToLower(feature)
	switch {
	case strings.Contains(lower, "libre de gluten"):
		product.GlutenFree = true
	case strings.Contains(lower, "vegano"):
		product.Vegan = true
	case strings.Contains(lower, "blanqueamiento"):
		product.Whitening = true
	case strings.HasPrefix(lower, "sabor"):
		product.Flavor = strings.TrimSpace(feature[len("sabor"):])
	}
}

func parseSpanishBool(value string) bool {
	return strings.EqualFold(strings.TrimSpace(value), "sí")
}

func (s *Scraper) applySpecification(product *Product, label, value string) {
	field, ok := s.mapLabel(label)
	if !ok {
		return
	}

	switch field {
	case fieldBrand:
		product.Brand = value
	case fieldFormat:
		product.Format = value
	case fieldNetVolume:
		product.NetVolume = value
	case fieldFlavor:
		product.Flavor = value
	case fieldUnitsPerPack:
		product.UnitsPerPack = value
	case fieldShelfLife:
		product.ShelfLife = value
	case fieldOperationNotice:
		product.OperationNoticeNumber = value
	case fieldBenefits:
		for _, b := range strings.Split(value, ", ") {
			if b = strings.TrimSpace(b); b != "" {
				product.Benefits = append(product.Benefits, b)
			}
		}
	case fieldForChildren:
		product.ForChildren = parseSpanishBool(value)
	case fieldGlutenFree:
		product.GlutenFree = parseSpanishBool(value)
	case fieldParabenFree:
		product.ParabenFree = parseSpanishBool(value)
	case fieldVegan:
		product.Vegan = parseSpanishBool(value)
	}
}

const (
	ingredientsMarker = "Ingredientes Naturales:"
	excludedMarker    = "(No Contiene Químicos Nocivos):"
)

var excludedItemRegex = regexp.MustCompile(`-Sin\s+([^-\n]+)`)

func extractComposition(description string) (ingredients []string, excluded []string) {
	if _, rest, found := strings.Cut(description, ingredientsMarker); found {
		section, _, _ := strings.Cut(rest, excludedMarker)
		for _, ing := range strings.Split(section, ",") {
			if ing = strings.TrimSpace(ing); ing != "" {
				ingredients = append(ingredients, ing)
			}
		}
	}

	if _, rest, found := strings.Cut(description, excludedMarker); found {
		// the excluded chemicals list ends where the "Vegana" claim starts
		section, _, _ := strings.Cut(rest, "Vegana")
		for _, groups := range excludedItemRegex.FindAllStringSubmatch(section, -1) {
			if item := strings.TrimSpace(groups[1]); item != "" {
				excluded = append(excluded, item)
			}
		}
	}

	return ingredients, excluded
}

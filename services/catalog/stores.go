package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"catalogsync-backend/lib/retrier"
	"catalogsync-backend/lib/scrapers/mercadolibre"
	"catalogsync-backend/services/catalog/db"
)

// StoreSettings is the shape of the config_json column of a store
// config row.
type StoreSettings struct {
	// LabelAliases maps a store's own spec-sheet labels onto the
	// canonical field names the extractor understands.
	LabelAliases map[string]string `json:"label_aliases"`
	// HostDelayMs overrides the politeness delay for this store.
	HostDelayMs int `json:"host_delay_ms"`
}

// ExtractorRegistry routes a product reference to the extractor
// registered for its host. Local html snapshots and unknown hosts fall
// through to the default extractor.
type ExtractorRegistry struct {
	byHost   map[string]Extractor
	fallback Extractor
}

func NewExtractorRegistry(fallback Extractor) *ExtractorRegistry {
	return &ExtractorRegistry{
		byHost:   map[string]Extractor{},
		fallback: fallback,
	}
}

func (r *ExtractorRegistry) Register(host string, extractor Extractor) {
	r.byHost[strings.ToLower(host)] = extractor
}

func (r *ExtractorRegistry) Extract(ctx context.Context, reference string) (ProductFields, error) {
	if u, err := url.Parse(reference); err == nil && u.Hostname() != "" {
		if extractor, ok := r.byHost[strings.ToLower(u.Hostname())]; ok {
			return extractor.Extract(ctx, reference)
		}
	}
	if r.fallback == nil {
		return ProductFields{}, retrier.Permanent(
			fmt.Errorf("no extractor registered for %q", reference))
	}
	return r.fallback.Extract(ctx, reference)
}

// RegisterStores fills a registry from the active store config rows.
// Every store currently scrapes with the mercadolibre rules, aliases
// from config_json adjust the label mapping per store.
func RegisterStores(ctx context.Context, qry *db.Queries, registry *ExtractorRegistry, client *mercadolibre.Client) error {
	stores, err := qry.GetActiveStoreConfigs(ctx)
	if err != nil {
		return storageErr("get active store configs", err)
	}

	for _, store := range stores {
		if !store.BaseUrl.Valid {
			continue
		}
		u, err := url.Parse(store.BaseUrl.String)
		if err != nil || u.Hostname() == "" {
			return fmt.Errorf("store %q has unusable base url %q", store.StoreName, store.BaseUrl.String)
		}

		var settings StoreSettings
		if store.ConfigJson != "" {
			if err := json.Unmarshal([]byte(store.ConfigJson), &settings); err != nil {
				return fmt.Errorf("store %q config: %w", store.StoreName, err)
			}
		}

		scraper := mercadolibre.NewScraper(client, mercadolibre.Config{
			LabelAliases: settings.LabelAliases,
		})
		registry.Register(u.Hostname(), &MercadoLibreExtractor{Scraper: scraper})
	}
	return nil
}

// MercadoLibreExtractor adapts the mercadolibre scraper to the
// pipeline's extraction contract. A reference starting with http is
// fetched live, anything else is treated as a local html snapshot.
type MercadoLibreExtractor struct {
	Scraper *mercadolibre.Scraper
}

func (e *MercadoLibreExtractor) Extract(ctx context.Context, reference string) (ProductFields, error) {
	var (
		product mercadolibre.Product
		err     error
	)
	if strings.HasPrefix(reference, "http://") || strings.HasPrefix(reference, "https://") {
		product, err = e.Scraper.ExtractURL(ctx, reference)
	} else {
		product, err = e.Scraper.ExtractFile(ctx, reference)
	}
	if err != nil {
		return ProductFields{}, err
	}
	return fieldsFromScrape(product), nil
}

func fieldsFromScrape(p mercadolibre.Product) ProductFields {
	return ProductFields{
		Name:                  p.Name,
		Brand:                 p.Brand,
		UnitsPerPack:          p.UnitsPerPack,
		NetVolume:             p.NetVolume,
		Flavor:                p.Flavor,
		GlutenFree:            p.GlutenFree,
		Vegan:                 p.Vegan,
		Whitening:             p.Whitening,
		Format:                p.Format,
		ForChildren:           p.ForChildren,
		ParabenFree:           p.ParabenFree,
		OperationNoticeNumber: p.OperationNoticeNumber,
		ShelfLife:             p.ShelfLife,
		FullDescription:       p.FullDescription,
		Benefits:              p.Benefits,
		NaturalIngredients:    p.NaturalIngredients,
		ExcludedChemicals:     p.ExcludedChemicals,
		Categories:            p.Categories,
		ImageURLs:             p.Images,
	}
}

package catalog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"catalogsync-backend/lib/retrier"
	"catalogsync-backend/lib/woocommerce"
)

// WoocommerceUploader publishes products through the WooCommerce REST
// API, pushing optimized images into the media library first.
type WoocommerceUploader struct {
	client *woocommerce.Client
}

func NewWoocommerceUploader(opts woocommerce.Options) *WoocommerceUploader {
	return &WoocommerceUploader{client: woocommerce.NewClient(opts)}
}

func (u *WoocommerceUploader) Upsert(ctx context.Context, req UploadRequest) (int64, error) {
	product := buildRemoteProduct(req)

	for i, path := range req.ImagePaths {
		data, err := os.ReadFile(path)
		if err != nil {
			return 0, retrier.Permanent(fmt.Errorf("reading optimized image: %w", err))
		}
		media, err := u.client.UploadMedia(ctx, filepath.Base(path), data)
		if err != nil {
			return 0, err
		}
		product.Images = append(product.Images, woocommerce.Image{
			Src:      media.SourceURL,
			Name:     req.Fields.Name,
			Position: i,
		})
	}

	return u.client.Upsert(ctx, product)
}

func buildRemoteProduct(req UploadRequest) woocommerce.Product {
	fields := req.Fields

	product := woocommerce.Product{
		Name:             fields.Name,
		Sku:              req.ExternalID,
		Description:      fields.FullDescription,
		ShortDescription: shortDescription(fields),
	}
	for _, category := range fields.Categories {
		product.Categories = append(product.Categories, woocommerce.Category{Name: category})
	}
	for _, benefit := range fields.Benefits {
		product.Tags = append(product.Tags, woocommerce.Tag{Name: benefit})
	}

	addAttr := func(name string, options ...string) {
		var kept []string
		for _, option := range options {
			if option != "" {
				kept = append(kept, option)
			}
		}
		if len(kept) == 0 {
			return
		}
		product.Attributes = append(product.Attributes, woocommerce.Attribute{
			Name:    name,
			Visible: true,
			Options: kept,
		})
	}
	addAttr("Marca", fields.Brand)
	addAttr("Sabor", fields.Flavor)
	addAttr("Formato", fields.Format)
	addAttr("Volumen Neto", fields.NetVolume)
	addAttr("Unidades por Pack", fields.UnitsPerPack)
	addAttr("Vida Útil", fields.ShelfLife)
	addAttr("Ingredientes Naturales", fields.NaturalIngredients...)
	addAttr("Libre De", fields.ExcludedChemicals...)

	return product
}

func shortDescription(fields ProductFields) string {
	var traits []string
	if fields.GlutenFree {
		traits = append(traits, "Libre de Gluten")
	}
	if fields.Vegan {
		traits = append(traits, "Vegano")
	}
	if fields.Whitening {
		traits = append(traits, "Blanqueador")
	}
	if fields.ParabenFree {
		traits = append(traits, "Sin Parabenos")
	}
	if fields.ForChildren {
		traits = append(traits, "Para Niños")
	}
	return strings.Join(traits, " · ")
}

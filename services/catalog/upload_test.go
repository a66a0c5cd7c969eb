package catalog

import (
	"testing"

	"catalogsync-backend/lib/woocommerce"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestBuildRemoteProduct(t *testing.T) {
	req := UploadRequest{
		ExternalID: "cs-abc123",
		Fields: ProductFields{
			Name:               "Pasta Dental Natural Menta",
			Brand:              "NaturalCare",
			Flavor:             "Menta",
			NetVolume:          "150ml",
			FullDescription:    "Una pasta dental natural.",
			GlutenFree:         true,
			Vegan:              true,
			Benefits:           []string{"Blanqueamiento Natural"},
			Categories:         []string{"Higiene Bucal"},
			NaturalIngredients: []string{"Menta", "Aloe Vera"},
		},
	}

	want := woocommerce.Product{
		Name:             "Pasta Dental Natural Menta",
		Sku:              "cs-abc123",
		Description:      "Una pasta dental natural.",
		ShortDescription: "Libre de Gluten · Vegano",
		Categories:       []woocommerce.Category{{Name: "Higiene Bucal"}},
		Tags:             []woocommerce.Tag{{Name: "Blanqueamiento Natural"}},
		Attributes: []woocommerce.Attribute{
			{Name: "Marca", Visible: true, Options: []string{"NaturalCare"}},
			{Name: "Sabor", Visible: true, Options: []string{"Menta"}},
			{Name: "Volumen Neto", Visible: true, Options: []string{"150ml"}},
			{Name: "Ingredientes Naturales", Visible: true, Options: []string{"Menta", "Aloe Vera"}},
		},
	}

	got := buildRemoteProduct(req)
	require.Empty(t, cmp.Diff(want, got))
}

func TestBuildRemoteProductSkipsEmptyAttributes(t *testing.T) {
	got := buildRemoteProduct(UploadRequest{Fields: ProductFields{Name: "x"}})
	require.Empty(t, got.Attributes)
	require.Empty(t, got.ShortDescription)
}

package parsers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlas-dev/atlas-go/internal/graph"
)

const shopMainGo = `package main

import (
	"fmt"

	"example.com/shop/internal/http"
	"example.com/shop/internal/orders"
)

func main() {
	fmt.Println(orders.ErrEmptyOrder)
	_ = http.NewHandler
}
`

const shopHandlerGo = `package http

import "example.com/shop/internal/orders"

type Handler struct {
	svc *orders.Service
}

func NewHandler(svc *orders.Service) *Handler {
	return &Handler{svc: svc}
}

func RegisterRoutes(r Router) {
	r.GET("/api/orders", listOrders)
	r.POST("/api/orders", createOrder)
}

func listOrders(c Context) {
}

func createOrder(c Context) {
}
`

const shopServiceGo = `package orders

import "errors"

var ErrEmptyOrder = errors.New("empty order")

type Service struct{}

func Place(o Order) error {
	if o.ID == "" {
		return ErrEmptyOrder
	}
	return nil
}
`

func goFixture(t *testing.T) string {
	root := t.TempDir()
	writeFile(t, root, "go.mod", "module example.com/shop\n\ngo 1.24\n")
	writeFile(t, root, "main.go", shopMainGo)
	writeFile(t, root, "internal/http/handler.go", shopHandlerGo)
	writeFile(t, root, "internal/orders/service.go", shopServiceGo)
	writeFile(t, root, "internal/orders/store.go", "package orders\n\ntype Store struct{}\n")
	writeFile(t, root, "internal/orders/service_test.go", "package orders\n")
	writeFile(t, root, "internal/orders/testdata/fixture.go", "package fixture\n")
	return root
}

func goKnown() IdentifierSet {
	return IdentifierSet{
		"main":                    true,
		"internal.http.handler":   true,
		"internal.orders.service": true,
		"internal.orders.store":   true,
	}
}

func TestGoParser_DiscoverFiles(t *testing.T) {
	t.Parallel()

	root := goFixture(t)

	files, err := NewGoParser().DiscoverFiles(root)

	require.NoError(t, err)
	assert.Equal(t, []string{
		"internal/http/handler.go",
		"internal/orders/service.go",
		"internal/orders/store.go",
		"main.go",
	}, files)
}

func TestGoParser_ExtractIdentifier(t *testing.T) {
	t.Parallel()

	p := NewGoParser()

	assert.Equal(t, "internal.orders.service", p.ExtractIdentifier("internal/orders/service.go", "."))
	assert.Equal(t, "main", p.ExtractIdentifier("main.go", "."))
}

func TestGoParser_ExtractDependencies(t *testing.T) {
	t.Parallel()

	root := goFixture(t)
	p := NewGoParser()

	t.Run("PackageImportFansOutToUnits", func(t *testing.T) {
		t.Parallel()
		deps, err := p.ExtractDependencies(root, "main.go", goKnown())

		require.NoError(t, err)
		assert.True(t, deps["internal.http.handler"])
		assert.True(t, deps["internal.orders.service"])
		assert.True(t, deps["internal.orders.store"])
		assert.Len(t, deps, 3, "fmt is stdlib and dropped")
	})

	t.Run("SingleImport", func(t *testing.T) {
		t.Parallel()
		deps, err := p.ExtractDependencies(root, "internal/http/handler.go", goKnown())

		require.NoError(t, err)
		assert.True(t, deps["internal.orders.service"])
		assert.True(t, deps["internal.orders.store"])
		assert.Len(t, deps, 2)
	})
}

func TestGoParser_IsEntryPoint(t *testing.T) {
	t.Parallel()

	root := goFixture(t)
	p := NewGoParser()

	assert.True(t, p.IsEntryPoint(root, "main.go"), "package main with func main")
	assert.True(t, p.IsEntryPoint(root, "internal/http/handler.go"), "registers routes")
	assert.False(t, p.IsEntryPoint(root, "internal/orders/service.go"))
}

func TestGoParser_InferClassType(t *testing.T) {
	t.Parallel()

	root := goFixture(t)
	p := NewGoParser()

	assert.Equal(t, graph.KindController, p.InferClassType(root, "internal/http/handler.go"))
	assert.Equal(t, graph.KindService, p.InferClassType(root, "internal/orders/service.go"))
	assert.Equal(t, graph.KindRepository, p.InferClassType(root, "internal/orders/store.go"))
}

func TestGoParser_ExtractMethods(t *testing.T) {
	t.Parallel()

	root := goFixture(t)
	p := NewGoParser()

	t.Run("RoutesAttachToHandlers", func(t *testing.T) {
		t.Parallel()
		methods, err := p.ExtractMethods(root, "internal/http/handler.go")
		require.NoError(t, err)

		byName := make(map[string]StaticMethodInfo)
		for _, m := range methods {
			byName[m.Name] = m
		}

		list, ok := byName["listOrders"]
		require.True(t, ok)
		assert.Equal(t, "GET", list.HTTPMethod)
		assert.Equal(t, "/api/orders", list.HTTPPath)

		create, ok := byName["createOrder"]
		require.True(t, ok)
		assert.Equal(t, "POST", create.HTTPMethod)

		register, ok := byName["RegisterRoutes"]
		require.True(t, ok)
		assert.Empty(t, register.HTTPMethod)
	})

	t.Run("ErrorReturnsCollected", func(t *testing.T) {
		t.Parallel()
		methods, err := p.ExtractMethods(root, "internal/orders/service.go")
		require.NoError(t, err)

		byName := make(map[string]StaticMethodInfo)
		for _, m := range methods {
			byName[m.Name] = m
		}

		place, ok := byName["Place"]
		require.True(t, ok)
		assert.Equal(t, []string{"ErrEmptyOrder"}, place.Exceptions)
	})
}

func TestGoParser_ExtractMethodParameters(t *testing.T) {
	t.Parallel()

	root := goFixture(t)

	params, err := NewGoParser().ExtractMethodParameters(root, "internal/http/handler.go", goKnown())

	require.NoError(t, err)
	assert.Equal(t, []string{"internal.orders.service"}, params["NewHandler"])
	assert.NotContains(t, params, "listOrders", "unresolvable parameter types are dropped")
}

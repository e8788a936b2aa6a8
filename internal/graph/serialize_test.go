package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildSerializableGraph() *ProjectGraph {
	g := NewProjectGraph()
	g.AddNode("com.shop.OrderController", "src/main/java/com/shop/OrderController.java")
	g.AddNode("com.shop.OrderService", "src/main/java/com/shop/OrderService.java")
	g.AddNode("com.shop.OrderRepository", "src/main/java/com/shop/OrderRepository.java")
	g.AddDependency("com.shop.OrderController", "com.shop.OrderService")
	g.AddDependency("com.shop.OrderService", "com.shop.OrderRepository")
	g.MarkAsEntryPoint("com.shop.OrderController")
	g.SetKind("com.shop.OrderController", KindController)
	g.SetKind("com.shop.OrderService", KindService)
	g.BindClassID("com.shop.OrderService", "rec-42")
	g.AddMethod("com.shop.OrderController", MethodInfo{
		Name:       "create",
		HTTPMethod: "POST",
		HTTPPath:   "/api/orders",
		Exceptions: []string{"ValidationException"},
		Line:       31,
	})
	g.AddMethod("com.shop.OrderService", MethodInfo{Name: "placeOrder", Line: 18, Description: "Places an order", LogicSteps: []string{"validate", "persist"}})
	g.AddMethodParameter("com.shop.OrderService", MethodParameterLink{MethodName: "placeOrder", Position: 0, Target: "com.shop.OrderRepository"})
	return g
}

func TestProjectGraph_RoundTrip(t *testing.T) {
	t.Parallel()

	original := buildSerializableGraph()

	data, err := original.ToJSON()
	require.NoError(t, err)

	restored, err := FromJSON(data)
	require.NoError(t, err)

	assert.Equal(t, original.AnalysisOrder(), restored.AnalysisOrder())
	assert.Equal(t, original.NodeCount(), restored.NodeCount())
	assert.Equal(t, original.EdgeCount(), restored.EdgeCount())
	assert.Equal(t, original.EntryPoints(), restored.EntryPoints())

	for _, id := range original.AnalysisOrder() {
		assert.Equal(t, original.Node(id), restored.Node(id), id)
		assert.Equal(t, original.Methods(id), restored.Methods(id), id)
		assert.Equal(t, original.MethodParameters(id), restored.MethodParameters(id), id)
		assert.Equal(t, original.Dependencies(id), restored.Dependencies(id), id)
		assert.Equal(t, original.Dependents(id), restored.Dependents(id), id)
	}
}

func TestFromJSON_RejectsMalformedInput(t *testing.T) {
	t.Parallel()

	_, err := FromJSON([]byte("{not json"))

	assert.Error(t, err)
}

func TestProjectGraph_RoundTripEmpty(t *testing.T) {
	t.Parallel()

	data, err := NewProjectGraph().ToJSON()
	require.NoError(t, err)

	restored, err := FromJSON(data)
	require.NoError(t, err)
	assert.Equal(t, 0, restored.NodeCount())
}

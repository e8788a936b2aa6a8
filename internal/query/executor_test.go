package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlas-dev/atlas-go/internal/graph"
)

type mapSource map[string]*graph.ProjectGraph

func (m mapSource) Snapshot(project string) (*graph.ProjectGraph, bool) {
	g, ok := m[project]
	return g, ok
}

// orderGraph builds: OrderController -> OrderService -> OrderRepository,
// with the controller as HTTP entry point.
func orderGraph(t *testing.T) *graph.ProjectGraph {
	t.Helper()
	g := graph.NewProjectGraph()

	g.AddNode("controllers.OrderController", "src/controllers/OrderController.java")
	g.AddNode("services.OrderService", "src/services/OrderService.java")
	g.AddNode("repositories.OrderRepository", "src/repositories/OrderRepository.java")

	g.AddDependency("controllers.OrderController", "services.OrderService")
	g.AddDependency("services.OrderService", "repositories.OrderRepository")

	g.SetKind("controllers.OrderController", graph.KindController)
	g.SetKind("services.OrderService", graph.KindService)
	g.SetKind("repositories.OrderRepository", graph.KindRepository)
	g.MarkAsEntryPoint("controllers.OrderController")

	g.AddMethod("controllers.OrderController", graph.MethodInfo{
		Name:       "create",
		HTTPMethod: "POST",
		HTTPPath:   "/api/orders",
		LogicSteps: []string{"validate request", "delegate to service"},
	})
	g.AddMethod("controllers.OrderController", graph.MethodInfo{Name: "audit"})
	g.AddMethod("services.OrderService", graph.MethodInfo{Name: "place"})
	g.AddMethodParameter("controllers.OrderController", graph.MethodParameterLink{
		MethodName: "create", Position: 0, Target: "services.OrderService",
	})
	return g
}

func executorFor(t *testing.T) *Executor {
	t.Helper()
	return NewExecutor(mapSource{"shop": orderGraph(t)})
}

func TestExecutor_VertexResolution(t *testing.T) {
	t.Parallel()

	x := executorFor(t)

	t.Run("ExactIdentifier", func(t *testing.T) {
		t.Parallel()
		result, err := x.Execute("shop:services.OrderService")
		require.NoError(t, err)
		assert.Equal(t, "services.OrderService", result.Node.Identifier)
	})

	t.Run("CaseInsensitiveSimpleName", func(t *testing.T) {
		t.Parallel()
		result, err := x.Execute("shop:orderservice")
		require.NoError(t, err)
		assert.Equal(t, "services.OrderService", result.Node.Identifier)
	})

	t.Run("Substring", func(t *testing.T) {
		t.Parallel()
		result, err := x.Execute("shop:Repo")
		require.NoError(t, err)
		assert.Equal(t, "repositories.OrderRepository", result.Node.Identifier)
	})

	t.Run("NotFound", func(t *testing.T) {
		t.Parallel()
		_, err := x.Execute("shop:PaymentGateway")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrNotFound)

		var qerr *Error
		require.ErrorAs(t, err, &qerr)
		assert.Equal(t, CodeClassNotFound, qerr.Code)
	})

	t.Run("AmbiguousSimpleNameTakesFirstInAnalysisOrder", func(t *testing.T) {
		t.Parallel()
		g := graph.NewProjectGraph()
		g.AddNode("a.Worker", "a/Worker.java")
		g.AddNode("b.Worker", "b/Worker.java")
		x := NewExecutor(mapSource{"p": g})

		result, err := x.Execute("p:Worker")
		require.NoError(t, err)
		assert.Equal(t, "a.Worker", result.Node.Identifier)
	})
}

func TestExecutor_ReservedKeywords(t *testing.T) {
	t.Parallel()

	x := executorFor(t)

	t.Run("Endpoints", func(t *testing.T) {
		t.Parallel()
		result, err := x.Execute("shop:endpoints")

		require.NoError(t, err)
		require.Len(t, result.Endpoints, 1, "only HTTP-bearing methods qualify")
		ep := result.Endpoints[0]
		assert.Equal(t, "controllers.OrderController", ep.Identifier)
		assert.Equal(t, "controller", ep.Kind)
		assert.Equal(t, "POST", ep.Method.HTTPMethod)
		assert.Equal(t, "/api/orders", ep.Method.HTTPPath)
		assert.Empty(t, ep.Method.LogicSteps, "logic steps need +logic")
	})

	t.Run("EndpointsWithLogic", func(t *testing.T) {
		t.Parallel()
		result, err := x.Execute("shop:endpoints:+logic")

		require.NoError(t, err)
		require.Len(t, result.Endpoints, 1)
		assert.Equal(t, []string{"validate request", "delegate to service"}, result.Endpoints[0].Method.LogicSteps)
	})

	t.Run("Classes", func(t *testing.T) {
		t.Parallel()
		result, err := x.Execute("shop:classes")

		require.NoError(t, err)
		require.Len(t, result.Nodes, 3)
		assert.Equal(t, "controllers.OrderController", result.Nodes[0].Identifier)
	})

	t.Run("ClassesWithDependencies", func(t *testing.T) {
		t.Parallel()
		result, err := x.Execute("shop:classes:+dependencies")

		require.NoError(t, err)
		require.Len(t, result.Nodes[0].Dependencies, 1)
		assert.Equal(t, "services.OrderService", result.Nodes[0].Dependencies[0].Identifier)
	})

	t.Run("EntryPoints", func(t *testing.T) {
		t.Parallel()
		result, err := x.Execute("shop:entrypoints")

		require.NoError(t, err)
		require.Len(t, result.Nodes, 1)
		assert.Equal(t, "controllers.OrderController", result.Nodes[0].Identifier)
		require.Len(t, result.Nodes[0].Methods, 1, "only HTTP-bearing methods listed")
		assert.Equal(t, "create", result.Nodes[0].Methods[0].Name)
	})
}

func TestExecutor_SubNavigation(t *testing.T) {
	t.Parallel()

	x := executorFor(t)

	t.Run("Methods", func(t *testing.T) {
		t.Parallel()
		result, err := x.Execute("shop:OrderController:methods")

		require.NoError(t, err)
		require.Len(t, result.Methods, 2)
		assert.Equal(t, "create", result.Methods[0].Name)
		require.Len(t, result.Methods[0].Parameters, 1)
		assert.Equal(t, "services.OrderService", result.Methods[0].Parameters[0].Target)
	})

	t.Run("Dependents", func(t *testing.T) {
		t.Parallel()
		result, err := x.Execute("shop:OrderService:dependents")

		require.NoError(t, err)
		require.Len(t, result.Node.Dependents, 1)
		assert.Equal(t, "controllers.OrderController", result.Node.Dependents[0].Identifier)
	})

	t.Run("Dependencies", func(t *testing.T) {
		t.Parallel()
		result, err := x.Execute("shop:OrderService:dependencies")

		require.NoError(t, err)
		require.Len(t, result.Node.Dependencies, 1)
		assert.Equal(t, "repositories.OrderRepository", result.Node.Dependencies[0].Identifier)
	})

	t.Run("SingleMethod", func(t *testing.T) {
		t.Parallel()
		result, err := x.Execute("shop:OrderController:method:create")

		require.NoError(t, err)
		require.Len(t, result.Methods, 1)
		assert.Equal(t, "POST", result.Methods[0].HTTPMethod)
	})

	t.Run("MissingMethod", func(t *testing.T) {
		t.Parallel()
		_, err := x.Execute("shop:OrderController:method:destroy")

		require.Error(t, err)
		var qerr *Error
		require.ErrorAs(t, err, &qerr)
		assert.Equal(t, CodeMethodNotFound, qerr.Code)
	})
}

func TestExecutor_Check(t *testing.T) {
	t.Parallel()

	x := executorFor(t)

	t.Run("Exists", func(t *testing.T) {
		t.Parallel()
		result, err := x.Execute("shop:OrderController:?create")

		require.NoError(t, err)
		require.NotNil(t, result.Check)
		assert.True(t, result.Check.Exists)
		require.NotNil(t, result.Check.Method)
		assert.Equal(t, "create", result.Check.Method.Name)
	})

	t.Run("MissingIsNotAnError", func(t *testing.T) {
		t.Parallel()
		result, err := x.Execute("shop:OrderController:?missingMethod")

		require.NoError(t, err)
		assert.False(t, result.Check.Exists)
		assert.Nil(t, result.Check.Method)
	})
}

func TestExecutor_ProjectNotFound(t *testing.T) {
	t.Parallel()

	_, err := executorFor(t).Execute("ghost:classes")

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)

	var qerr *Error
	require.ErrorAs(t, err, &qerr)
	assert.Equal(t, CodeProjectNotFound, qerr.Code)
}

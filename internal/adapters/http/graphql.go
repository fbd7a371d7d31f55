package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/graphql-go/graphql"

	"github.com/samirrijal/geoar/internal/core/domain"
)

// buildSchema creates the GraphQL schema wired to our services.
func buildSchema(deps *Dependencies) (graphql.Schema, error) {
	geoPointType := graphql.NewObject(graphql.ObjectConfig{
		Name: "GeoPoint",
		Fields: graphql.Fields{
			"lat": &graphql.Field{Type: graphql.Float},
			"lon": &graphql.Field{Type: graphql.Float},
			"altitude": &graphql.Field{
				Type: graphql.Float,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					if g, ok := p.Source.(domain.GeoPoint); ok && g.Alt != nil {
						return *g.Alt, nil
					}
					return nil, nil
				},
			},
		},
	})

	agentType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Agent",
		Fields: graphql.Fields{
			"id":                       &graphql.Field{Type: graphql.String},
			"name":                     &graphql.Field{Type: graphql.String},
			"type":                     &graphql.Field{Type: graphql.String},
			"location":                 &graphql.Field{Type: geoPointType},
			"visibility_radius_meters": &graphql.Field{Type: graphql.Float},
			"model_ref":                &graphql.Field{Type: graphql.String},
			"active":                   &graphql.Field{Type: graphql.Boolean},
		},
	})

	sampleType := graphql.NewObject(graphql.ObjectConfig{
		Name: "DistanceSample",
		Fields: graphql.Fields{
			"agent_id":        &graphql.Field{Type: graphql.String},
			"distance_meters": &graphql.Field{Type: graphql.Float},
			"in_range":        &graphql.Field{Type: graphql.Boolean},
		},
	})

	sessionType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Session",
		Fields: graphql.Fields{
			"state":        &graphql.Field{Type: graphql.String},
			"session_id":   &graphql.Field{Type: graphql.String},
			"attempt":      &graphql.Field{Type: graphql.Int},
			"max_attempts": &graphql.Field{Type: graphql.Int},
			"last_error":   &graphql.Field{Type: graphql.String},
			"heading":      &graphql.Field{Type: graphql.Float},
		},
	})

	nodeType := graphql.NewObject(graphql.ObjectConfig{
		Name: "SceneNode",
		Fields: graphql.Fields{
			"agent_id":   &graphql.Field{Type: graphql.String},
			"state":      &graphql.Field{Type: graphql.String},
			"primitive":  &graphql.Field{Type: graphql.String},
			"fallback":   &graphql.Field{Type: graphql.Boolean},
			"has_handle": &graphql.Field{Type: graphql.Boolean},
			"error":      &graphql.Field{Type: graphql.String},
		},
	})

	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"session": &graphql.Field{
				Type:        sessionType,
				Description: "Current AR session status",
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					st := deps.Session.Status()
					return map[string]interface{}{
						"state":        st.State.String(),
						"session_id":   st.SessionID,
						"attempt":      st.Attempt,
						"max_attempts": st.MaxAttempts,
						"last_error":   st.LastError,
						"heading":      st.Heading,
					}, nil
				},
			},
			"agentsInRange": &graphql.Field{
				Type:        graphql.NewList(sampleType),
				Description: "Agents within their visibility radius, nearest first",
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return deps.Ranges.InRange(), nil
				},
			},
			"trackedAgents": &graphql.Field{
				Type:        graphql.NewList(agentType),
				Description: "The agent set the range service currently holds",
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return deps.Ranges.Agents(), nil
				},
			},
			"agentsNearby": &graphql.Field{
				Type:        graphql.NewList(agentType),
				Description: "Query the agent store around a location",
				Args: graphql.FieldConfigArgument{
					"lat":    &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
					"lon":    &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
					"radius": &graphql.ArgumentConfig{Type: graphql.Float, DefaultValue: 150.0},
					"limit":  &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: 50},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					if deps.Agents == nil {
						return nil, errors.New("agent store not configured")
					}
					lat := p.Args["lat"].(float64)
					lon := p.Args["lon"].(float64)
					radius := p.Args["radius"].(float64)
					limit := p.Args["limit"].(int)
					return deps.Agents.FindNearby(p.Context, lat, lon, radius, limit)
				},
			},
			"distanceToAgent": &graphql.Field{
				Type:        graphql.Float,
				Description: "Distance in meters from the user to a tracked agent",
				Args: graphql.FieldConfigArgument{
					"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					d, ok := deps.Ranges.DistanceToAgentID(p.Args["id"].(string))
					if !ok {
						return nil, nil
					}
					return d, nil
				},
			},
			"visibleNodes": &graphql.Field{
				Type:        graphql.NewList(graphql.String),
				Description: "Ids of scene nodes inside the camera view",
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return deps.Session.VisibleNodeIDs()
				},
			},
			"sceneNodes": &graphql.Field{
				Type:        graphql.NewList(nodeType),
				Description: "Snapshot of every scene node",
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					nodes, err := deps.Session.Nodes()
					if err != nil {
						return nil, err
					}
					out := make([]map[string]interface{}, 0, len(nodes))
					for _, n := range nodes {
						out = append(out, map[string]interface{}{
							"agent_id":   n.AgentID,
							"state":      n.State.String(),
							"primitive":  n.Primitive,
							"fallback":   n.Fallback,
							"has_handle": n.HasHandle,
							"error":      n.Error,
						})
					}
					return out, nil
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{
		Query: queryType,
	})
}

// GraphQLHandler serves the GraphQL endpoint.
func GraphQLHandler(deps *Dependencies) fiber.Handler {
	schema, err := buildSchema(deps)
	if err != nil {
		// This would be a programming error in the schema definition
		panic("graphql schema build: " + err.Error())
	}

	type gqlRequest struct {
		Query         string                 `json:"query"`
		OperationName string                 `json:"operationName"`
		Variables     map[string]interface{} `json:"variables"`
	}

	return func(c *fiber.Ctx) error {
		var req gqlRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid request body")
		}

		result := graphql.Do(graphql.Params{
			Schema:         schema,
			RequestString:  req.Query,
			VariableValues: req.Variables,
			OperationName:  req.OperationName,
			Context:        c.UserContext(),
		})

		return c.JSON(result)
	}
}

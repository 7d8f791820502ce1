package handlers

import (
	"encoding/json"
	"net/http"
)

func fingerprintParam() map[string]interface{} {
	return map[string]interface{}{
		"name":        "fingerprint",
		"in":          "path",
		"description": "Feature configuration fingerprint, or a unique prefix of at least 8 characters",
		"required":    true,
		"schema":      map[string]string{"type": "string"},
	}
}

func errorResponse(description string) map[string]interface{} {
	return map[string]interface{}{
		"description": description,
		"content": map[string]interface{}{
			"application/json": map[string]interface{}{
				"schema": map[string]string{"$ref": "#/components/schemas/Error"},
			},
		},
	}
}

// OpenAPISpec returns the OpenAPI 3.0 specification for the feature catalog API
func OpenAPISpec(w http.ResponseWriter, r *http.Request) {
	spec := map[string]interface{}{
		"openapi": "3.0.0",
		"info": map[string]interface{}{
			"title":       "Bloom Risk Feature Catalog API",
			"description": "Read-only access to leakage-safe feature matrices built from water quality observations",
			"version":     "1.0.0",
		},
		"servers": []map[string]string{
			{"url": "http://localhost:8080", "description": "Local development server"},
		},
		"paths": map[string]interface{}{
			"/api/features": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":     "List feature matrices",
					"description": "List persisted matrices ordered by data file name",
					"parameters": []map[string]interface{}{
						{
							"name":        "snapshot_id",
							"in":          "query",
							"description": "Only matrices built from this snapshot",
							"required":    false,
							"schema":      map[string]string{"type": "string"},
						},
						{
							"name":        "page",
							"in":          "query",
							"description": "Page number (default: 1)",
							"required":    false,
							"schema":      map[string]interface{}{"type": "integer", "default": 1},
						},
						{
							"name":        "limit",
							"in":          "query",
							"description": "Matrices per page (default: 100, max: 1000)",
							"required":    false,
							"schema":      map[string]interface{}{"type": "integer", "default": 100},
						},
					},
					"responses": map[string]interface{}{
						"200": map[string]interface{}{
							"description": "Successful response",
							"content": map[string]interface{}{
								"application/json": map[string]interface{}{
									"schema": map[string]interface{}{
										"type": "object",
										"properties": map[string]interface{}{
											"data": map[string]interface{}{
												"type":  "array",
												"items": map[string]string{"$ref": "#/components/schemas/Metadata"},
											},
											"total":       map[string]string{"type": "integer"},
											"page":        map[string]string{"type": "integer"},
											"limit":       map[string]string{"type": "integer"},
											"total_pages": map[string]string{"type": "integer"},
										},
									},
								},
							},
						},
						"500": errorResponse("Catalog could not be read"),
					},
				},
			},
			"/api/features/{fingerprint}": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":    "Get feature matrix metadata",
					"parameters": []map[string]interface{}{fingerprintParam()},
					"responses": map[string]interface{}{
						"200": map[string]interface{}{
							"description": "Matrix metadata",
							"content": map[string]interface{}{
								"application/json": map[string]interface{}{
									"schema": map[string]string{"$ref": "#/components/schemas/Metadata"},
								},
							},
						},
						"404": errorResponse("No matrix with this fingerprint"),
					},
				},
			},
			"/api/features/{fingerprint}/data": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":    "Download the matrix as Parquet",
					"parameters": []map[string]interface{}{fingerprintParam()},
					"responses": map[string]interface{}{
						"200": map[string]interface{}{
							"description": "Parquet file",
							"content": map[string]interface{}{
								"application/vnd.apache.parquet": map[string]interface{}{
									"schema": map[string]string{"type": "string", "format": "binary"},
								},
							},
						},
						"404": errorResponse("No matrix with this fingerprint"),
					},
				},
			},
			"/health": map[string]interface{}{
				"get": map[string]interface{}{
					"summary": "Health check",
					"responses": map[string]interface{}{
						"200": map[string]interface{}{"description": "Service is healthy"},
						"503": map[string]interface{}{"description": "Database is unreachable"},
					},
				},
			},
			"/metrics": map[string]interface{}{
				"get": map[string]interface{}{
					"summary": "Prometheus metrics",
					"responses": map[string]interface{}{
						"200": map[string]interface{}{"description": "Metrics in text exposition format"},
					},
				},
			},
		},
		"components": map[string]interface{}{
			"schemas": map[string]interface{}{
				"Metadata": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"data_file":                  map[string]string{"type": "string"},
						"snapshot_id":                map[string]interface{}{"type": "string", "nullable": true},
						"feature_version":            map[string]string{"type": "string"},
						"label_version":              map[string]string{"type": "string"},
						"lookback_days":              map[string]string{"type": "integer"},
						"predictor_ids":              map[string]interface{}{"type": "array", "items": map[string]string{"type": "string"}},
						"target_determinand_id":      map[string]string{"type": "string"},
						"threshold_ugL":              map[string]string{"type": "number"},
						"strictly_greater":           map[string]string{"type": "boolean"},
						"window":                     map[string]string{"type": "string"},
						"feature_config_fingerprint": map[string]string{"type": "string"},
						"label_config_fingerprint":   map[string]string{"type": "string"},
						"n_rows":                     map[string]string{"type": "integer"},
						"n_pos":                      map[string]string{"type": "integer"},
						"pos_rate":                   map[string]interface{}{"type": "number", "nullable": true},
						"columns":                    map[string]interface{}{"type": "array", "items": map[string]string{"type": "string"}},
						"quality":                    map[string]string{"type": "object"},
					},
				},
				"Error": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"error":   map[string]string{"type": "string"},
						"message": map[string]string{"type": "string"},
						"code":    map[string]string{"type": "integer"},
					},
				},
			},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(spec)
}

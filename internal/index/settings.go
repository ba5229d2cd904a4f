package index

// Settings returns the analysis configuration every index is created
// with. The default analyzer folds case and diacritics; the
// case_insensitive_sort analyzer keeps the whole value as one token
// for sorting on text fields.
func Settings() map[string]any {
	return map[string]any{
		"analysis": map[string]any{
			"analyzer": map[string]any{
				"default": map[string]any{
					"type":      "custom",
					"tokenizer": "standard",
					"filter":    []string{"lowercase", "asciifolding"},
				},
				"case_insensitive_sort": map[string]any{
					"type":      "custom",
					"tokenizer": "keyword",
					"filter":    []string{"lowercase"},
				},
			},
			"normalizer": map[string]any{
				"case_insensitive": map[string]any{
					"type":   "custom",
					"filter": []string{"lowercase", "asciifolding"},
				},
			},
		},
	}
}

// Mapping returns the document mapping. Every dynamic string field,
// metadata included, gets a .raw keyword subfield for exact matching,
// wildcards and sorting.
func Mapping() map[string]any {
	return map[string]any{
		"dynamic_templates": []map[string]any{
			{
				"metadata_strings": map[string]any{
					"path_match":         "metadata.*",
					"match_mapping_type": "string",
					"mapping": map[string]any{
						"type": "text",
						"fields": map[string]any{
							"raw": map[string]any{
								"type":         "keyword",
								"normalizer":   "case_insensitive",
								"ignore_above": 8191,
							},
						},
					},
				},
			},
			{
				"strings": map[string]any{
					"match_mapping_type": "string",
					"mapping": map[string]any{
						"type": "text",
						"fields": map[string]any{
							"raw": map[string]any{
								"type":         "keyword",
								"normalizer":   "case_insensitive",
								"ignore_above": 8191,
							},
						},
					},
				},
			},
		},
		"properties": map[string]any{
			"indexed_type": map[string]any{
				"type": "keyword",
			},
			"metadata": map[string]any{
				"type":              "nested",
				"include_in_parent": true,
			},
			"relationships": map[string]any{
				"type": "nested",
			},
			"name": map[string]any{
				"type":    "text",
				"copy_to": "title",
				"fields": map[string]any{
					"raw": map[string]any{
						"type":         "keyword",
						"normalizer":   "case_insensitive",
						"ignore_above": 8191,
					},
				},
			},
			"title": map[string]any{
				"type": "text",
				"fields": map[string]any{
					"raw": map[string]any{
						"type":         "keyword",
						"normalizer":   "case_insensitive",
						"ignore_above": 8191,
					},
					"suggestion": map[string]any{
						"type":     "text",
						"analyzer": "simple",
					},
				},
			},
			"tags": map[string]any{
				"type":     "text",
				"analyzer": "case_insensitive_sort",
				"fields": map[string]any{
					"raw": map[string]any{
						"type":         "keyword",
						"normalizer":   "case_insensitive",
						"ignore_above": 8191,
					},
				},
			},
		},
	}
}

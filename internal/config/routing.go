package config

// RoutingConfig is the keyword weight table used to pick a worker type.
type RoutingConfig struct {
	DefaultWorker string                    `yaml:"default_worker"`
	Priority      []string                  `yaml:"priority"`
	Keywords      map[string]map[string]int `yaml:"keywords"`
}

// DefaultRouting returns the built-in table for a webshop assistant.
func DefaultRouting() *RoutingConfig {
	return &RoutingConfig{
		DefaultWorker: "general",
		Priority:      []string{"product", "order", "recommendation", "marketing", "general"},
		Keywords: map[string]map[string]int{
			"product": {
				"ár":      2,
				"termék":  2,
				"iphone":  3,
				"samsung": 3,
				"készlet": 2,
				"price":   2,
				"product": 2,
				"stock":   2,
			},
			"order": {
				"rendelés":  3,
				"szállítás": 2,
				"csomag":    2,
				"order":     3,
				"delivery":  2,
				"tracking":  2,
			},
			"recommendation": {
				"ajánl":     3,
				"hasonló":   2,
				"recommend": 3,
				"similar":   2,
			},
			"marketing": {
				"kupon":      3,
				"akció":      2,
				"hírlevél":   3,
				"coupon":     3,
				"discount":   2,
				"newsletter": 3,
			},
		},
	}
}

package conf

import "fmt"

// VersionHandler upgrades a raw settings map from one schema version to the
// next, applying any new defaults and translating renamed/removed keys.
type VersionHandler struct {
	FromVersion string
	ToVersion   string
	Upgrade     func(map[string]any) (map[string]any, error)
}

// migrationChain holds registered handlers in application order. Each
// handler only needs to know about its own immediate predecessor version;
// Migrate walks the chain until it reaches CurrentConfigVersion.
var migrationChain = []VersionHandler{
	{
		FromVersion: "1.0.0",
		ToVersion:   "2.0.0",
		Upgrade: func(m map[string]any) (map[string]any, error) {
			// v1 kept MQTT settings at top level; v2 nested them under "mqtt".
			if broker, ok := m["mqtt_broker"]; ok {
				nested, _ := m["mqtt"].(map[string]any)
				if nested == nil {
					nested = map[string]any{}
				}
				nested["mqtt_broker_host"] = broker
				m["mqtt"] = nested
				delete(m, "mqtt_broker")
			}
			m["config_version"] = "2.0.0"
			return m, nil
		},
	},
	{
		FromVersion: "2.0.0",
		ToVersion:   "3.0.0",
		Upgrade: func(m map[string]any) (map[string]any, error) {
			// v2 had a single "confidence_threshold" shared by model and
			// notifications; v3 splits model.species_confidence_threshold
			// from per-rule minimum_confidence.
			if model, ok := m["model"].(map[string]any); ok {
				if legacy, ok := model["confidence_threshold"]; ok {
					model["species_confidence_threshold"] = legacy
					delete(model, "confidence_threshold")
				}
			}
			m["config_version"] = "3.0.0"
			return m, nil
		},
	},
}

// Migrate walks the registered chain starting from whatever config_version is
// present in m (defaulting to CurrentConfigVersion for a brand-new config),
// applying each handler's defaults/renames until the map is current.
func Migrate(m map[string]any) (map[string]any, error) {
	version, _ := m["config_version"].(string)
	if version == "" {
		m["config_version"] = CurrentConfigVersion
		return m, nil
	}

	for version != CurrentConfigVersion {
		handler := findHandler(version)
		if handler == nil {
			return nil, fmt.Errorf("no migration path from config_version %q to %q", version, CurrentConfigVersion)
		}
		upgraded, err := handler.Upgrade(m)
		if err != nil {
			return nil, fmt.Errorf("migrating from %s to %s: %w", handler.FromVersion, handler.ToVersion, err)
		}
		m = upgraded
		version = handler.ToVersion
	}
	return m, nil
}

func findHandler(fromVersion string) *VersionHandler {
	for i := range migrationChain {
		if migrationChain[i].FromVersion == fromVersion {
			return &migrationChain[i]
		}
	}
	return nil
}

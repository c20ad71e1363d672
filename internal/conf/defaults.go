package conf

import "github.com/spf13/viper"

// applyDefaults registers the built-in defaults named in spec §6.
func applyDefaults(v *viper.Viper) {
	v.SetDefault("config_version", CurrentConfigVersion)
	v.SetDefault("debug", false)

	v.SetDefault("location.species_display_mode", "full")
	v.SetDefault("location.language", "en")

	v.SetDefault("model.species_confidence_threshold", 0.03)
	v.SetDefault("model.sensitivity_setting", 1.25)
	v.SetDefault("model.privacy_threshold", 10.0)
	v.SetDefault("model.threads", 0) // 0 = performance cores on a recognized hybrid CPU, else all CPUs
	v.SetDefault("model.use_xnnpack", true)
	v.SetDefault("model.range_filter_threshold", 0.01)

	v.SetDefault("audio.audio_device_index", -1)
	v.SetDefault("audio.sample_rate", 48000)
	v.SetDefault("audio.audio_channels", 1)
	v.SetDefault("audio.audio_overlap", 0.5)
	v.SetDefault("audio.export_clips", true)

	v.SetDefault("notifications.notification_title_default", "New detection: {{common_name}}")
	v.SetDefault("notifications.notification_body_default",
		"{{common_name}} ({{scientific_name}}) detected at {{confidence}} confidence")

	v.SetDefault("mqtt.enable_mqtt", false)
	v.SetDefault("mqtt.mqtt_topic_prefix", "birdnet")
	v.SetDefault("mqtt.mqtt_client_id", "birdcore")
	v.SetDefault("mqtt.mqtt_broker_port", 1883)

	v.SetDefault("updates.check_enabled", true)
	v.SetDefault("updates.check_interval_hours", 24)
	v.SetDefault("updates.auto_check_on_startup", true)
	v.SetDefault("updates.git_remote", "origin")
	v.SetDefault("updates.git_branch", "main")
	v.SetDefault("updates.export.enabled", false)
	v.SetDefault("updates.export.protocol", "sftp")
	v.SetDefault("updates.export.port", 0)
	v.SetDefault("updates.export.timeout", "30s")

	v.SetDefault("regional_filter.enabled", false)

	v.SetDefault("dynamic_threshold.enabled", true)
	v.SetDefault("dynamic_threshold.debug", false)
	v.SetDefault("dynamic_threshold.trigger", 0.5)
	v.SetDefault("dynamic_threshold.min", 0.2)
	v.SetDefault("dynamic_threshold.valid_hours", 24)

	v.SetDefault("sound_level.enabled", false)
	v.SetDefault("sound_level.interval", "10s")

	v.SetDefault("web.listen", ":8080")
	v.SetDefault("web.session_secret", "")

	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.interval", 30)
	v.SetDefault("monitoring.cpu.enabled", true)
	v.SetDefault("monitoring.cpu.warning", 80.0)
	v.SetDefault("monitoring.cpu.critical", 95.0)
	v.SetDefault("monitoring.memory.enabled", true)
	v.SetDefault("monitoring.memory.warning", 80.0)
	v.SetDefault("monitoring.memory.critical", 95.0)
	v.SetDefault("monitoring.disk.enabled", true)
	v.SetDefault("monitoring.disk.paths", []string{"/"})
	v.SetDefault("monitoring.disk.warning", 85.0)
	v.SetDefault("monitoring.disk.critical", 95.0)

	v.SetDefault("data_dir", "data")
}

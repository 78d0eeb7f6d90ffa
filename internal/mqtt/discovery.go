package mqtt

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/HerbHall/homewatch/internal/version"
)

// nonAlphanumeric matches any character that is not alphanumeric or underscore.
var nonAlphanumeric = regexp.MustCompile(`[^a-zA-Z0-9_]`)

// motionOffDelay matches the camera's stream cooldown in seconds.
const motionOffDelay = 60

// DiscoveryConfig holds a single HA MQTT discovery payload.
type DiscoveryConfig struct {
	Topic   string // Full MQTT topic (homeassistant/...)
	Payload []byte // JSON-encoded config (empty = remove)
}

// HADevice is the "device" block in HA discovery payloads.
type HADevice struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Model        string   `json:"model,omitempty"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	SWVersion    string   `json:"sw_version,omitempty"`
	ViaDevice    string   `json:"via_device,omitempty"`
}

// BinarySensorConfig is the HA discovery payload for binary_sensor.
type BinarySensorConfig struct {
	Name              string   `json:"name"`
	ObjectID          string   `json:"object_id"`
	UniqueID          string   `json:"unique_id"`
	StateTopic        string   `json:"state_topic"`
	DeviceClass       string   `json:"device_class,omitempty"`
	PayloadOn         string   `json:"payload_on"`
	PayloadOff        string   `json:"payload_off"`
	OffDelay          int      `json:"off_delay,omitempty"`
	Device            HADevice `json:"device"`
	AvailabilityTopic string   `json:"availability_topic,omitempty"`
	Icon              string   `json:"icon,omitempty"`
}

// SensorConfig is the HA discovery payload for sensor.
type SensorConfig struct {
	Name              string   `json:"name"`
	ObjectID          string   `json:"object_id"`
	UniqueID          string   `json:"unique_id"`
	StateTopic        string   `json:"state_topic"`
	Icon              string   `json:"icon,omitempty"`
	Device            HADevice `json:"device"`
	AvailabilityTopic string   `json:"availability_topic,omitempty"`
}

// SafeObjectID sanitizes a string for use as an HA object_id.
// Replaces any non-alphanumeric character (except underscore) with underscore,
// lowercases, and trims leading/trailing underscores.
func SafeObjectID(s string) string {
	s = strings.ToLower(s)
	s = nonAlphanumeric.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	if s == "" {
		return "unknown"
	}
	return s
}

// TopicSegment makes s usable as one MQTT topic level by replacing the
// separator and wildcard characters.
func TopicSegment(s string) string {
	s = strings.NewReplacer("/", "_", "+", "_", "#", "_").Replace(strings.TrimSpace(s))
	if s == "" {
		return "unknown"
	}
	return s
}

// hubDevice is the HA device every homewatch entity belongs to.
func hubDevice() HADevice {
	return HADevice{
		Identifiers:  []string{"homewatch"},
		Name:         "Homewatch",
		Model:        "homewatch",
		Manufacturer: "Homewatch",
		SWVersion:    version.Short(),
	}
}

// PresenceTopic is the state topic for one nickname.
func PresenceTopic(topicPrefix, nickname string) string {
	return topicPrefix + "/presence/" + TopicSegment(nickname)
}

// BuildPresenceDiscoveryConfig creates the presence binary_sensor for a nickname.
func BuildPresenceDiscoveryConfig(nickname, topicPrefix, haPrefix string) DiscoveryConfig {
	safeID := SafeObjectID(nickname)
	return marshalConfig(
		fmt.Sprintf("%s/binary_sensor/homewatch_%s/presence/config", haPrefix, safeID),
		BinarySensorConfig{
			Name:              nickname + " Home",
			ObjectID:          "homewatch_" + safeID + "_presence",
			UniqueID:          "homewatch_" + safeID + "_presence",
			StateTopic:        PresenceTopic(topicPrefix, nickname),
			DeviceClass:       "presence",
			PayloadOn:         "ON",
			PayloadOff:        "OFF",
			Device:            hubDevice(),
			AvailabilityTopic: topicPrefix + "/status",
			Icon:              "mdi:home-account",
		},
	)
}

// BuildPresenceRemovalConfig returns the empty payload that removes a
// nickname's entity from HA.
func BuildPresenceRemovalConfig(nickname, haPrefix string) DiscoveryConfig {
	return DiscoveryConfig{
		Topic: fmt.Sprintf("%s/binary_sensor/homewatch_%s/presence/config", haPrefix, SafeObjectID(nickname)),
	}
}

// BuildHubDiscoveryConfigs creates the fixed entities: camera stream and
// motion binary_sensors and the router session state sensor.
func BuildHubDiscoveryConfigs(topicPrefix, haPrefix string) []DiscoveryConfig {
	dev := hubDevice()
	avail := topicPrefix + "/status"
	return []DiscoveryConfig{
		marshalConfig(haPrefix+"/binary_sensor/homewatch_camera/stream/config", BinarySensorConfig{
			Name:              "Camera Stream",
			ObjectID:          "homewatch_camera_stream",
			UniqueID:          "homewatch_camera_stream",
			StateTopic:        topicPrefix + "/camera/stream",
			DeviceClass:       "running",
			PayloadOn:         "ON",
			PayloadOff:        "OFF",
			Device:            dev,
			AvailabilityTopic: avail,
			Icon:              "mdi:cctv",
		}),
		marshalConfig(haPrefix+"/binary_sensor/homewatch_camera/motion/config", BinarySensorConfig{
			Name:              "Camera Motion",
			ObjectID:          "homewatch_camera_motion",
			UniqueID:          "homewatch_camera_motion",
			StateTopic:        topicPrefix + "/camera/motion",
			DeviceClass:       "motion",
			PayloadOn:         "ON",
			PayloadOff:        "OFF",
			OffDelay:          motionOffDelay,
			Device:            dev,
			AvailabilityTopic: avail,
		}),
		marshalConfig(haPrefix+"/sensor/homewatch_router/state/config", SensorConfig{
			Name:              "Router Session",
			ObjectID:          "homewatch_router_state",
			UniqueID:          "homewatch_router_state",
			StateTopic:        topicPrefix + "/router/state",
			Icon:              "mdi:router-wireless",
			Device:            dev,
			AvailabilityTopic: avail,
		}),
	}
}

func marshalConfig(topic string, v any) DiscoveryConfig {
	payload, err := json.Marshal(v)
	if err != nil {
		return DiscoveryConfig{}
	}
	return DiscoveryConfig{Topic: topic, Payload: payload}
}

package mqtt

import "testing"

func TestTopicBuilders(t *testing.T) {
	tests := []struct {
		name     string
		builder  func() string
		expected string
	}{
		{
			name: "RunStatus",
			builder: func() string {
				return Topics{}.RunStatus("run-a1b2c3d4")
			},
			expected: "carousel/run/run-a1b2c3d4/status",
		},
		{
			name: "RunEvent",
			builder: func() string {
				return Topics{}.RunEvent("run-a1b2c3d4")
			},
			expected: "carousel/run/run-a1b2c3d4/event",
		},
		{
			name: "RunCommand",
			builder: func() string {
				return Topics{}.RunCommand("run-a1b2c3d4")
			},
			expected: "carousel/run/run-a1b2c3d4/command",
		},
		{
			name: "DeviceHealth",
			builder: func() string {
				return Topics{}.DeviceHealth("dev-9f8e7d6c")
			},
			expected: "carousel/device/dev-9f8e7d6c/health",
		},
		{
			name: "AccountCounters",
			builder: func() string {
				return Topics{}.AccountCounters("acc-1a2b3c4d")
			},
			expected: "carousel/account/acc-1a2b3c4d/counters",
		},
		{
			name: "SystemStatus",
			builder: func() string {
				return Topics{}.SystemStatus()
			},
			expected: "carousel/system/status",
		},
		{
			name: "AllRunStatuses",
			builder: func() string {
				return Topics{}.AllRunStatuses()
			},
			expected: "carousel/run/+/status",
		},
		{
			name: "AllRunEvents",
			builder: func() string {
				return Topics{}.AllRunEvents()
			},
			expected: "carousel/run/+/event",
		},
		{
			name: "AllRunCommands",
			builder: func() string {
				return Topics{}.AllRunCommands()
			},
			expected: "carousel/run/+/command",
		},
		{
			name: "AllDeviceHealth",
			builder: func() string {
				return Topics{}.AllDeviceHealth()
			},
			expected: "carousel/device/+/health",
		},
		{
			name: "AllTopics",
			builder: func() string {
				return Topics{}.AllTopics()
			},
			expected: "carousel/#",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.builder(); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

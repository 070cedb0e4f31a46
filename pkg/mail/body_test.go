package mail

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/corralhq/corral/pkg/types"
)

func TestBuildContainerStarted(t *testing.T) {
	info := ConnectionInfo{
		Image: "workbench/pytorch:latest",
		IP:    "10.0.0.5",
		Ports: []types.ReservedPort{
			{ServiceName: "SSH", InsidePort: 22, OutsidePort: 2042},
			{ServiceName: "Jupyter", InsidePort: 8888, OutsidePort: 2043},
		},
		Password:    "s3cret",
		EndDate:     time.Date(2026, 9, 1, 18, 0, 0, 0, time.UTC),
		HelpAddress: "help@example.com",
		ClientURL:   "https://corral.example.com",
	}

	t.Run("email body", func(t *testing.T) {
		body := BuildContainerStarted(info, true)

		assert.Contains(t, body, "Container with image workbench/pytorch:latest is ready to use.")
		assert.Contains(t, body, "user@10.0.0.5:2042")
		assert.Contains(t, body, "ssh user@10.0.0.5 -p 2042")
		assert.Contains(t, body, "Password for the SSH connection:\ns3cret")
		assert.Contains(t, body, "Service Jupyter is available through: 10.0.0.5:2043")
		assert.Contains(t, body, "IP address of the machine: 10.0.0.5")
		assert.Contains(t, body, "Your reservation will end at (UTC): 2026-09-01 18:00:00")
		assert.Contains(t, body, "noreply")
		assert.Contains(t, body, "https://corral.example.com")
		assert.Contains(t, body, "help@example.com")
	})

	t.Run("in-client details drop the email footers", func(t *testing.T) {
		body := BuildContainerStarted(info, false)

		assert.Contains(t, body, "ssh user@10.0.0.5 -p 2042")
		assert.NotContains(t, body, "ready to use")
		assert.NotContains(t, body, "noreply")
		assert.NotContains(t, body, "help@example.com")
	})

	t.Run("no ssh port", func(t *testing.T) {
		noSSH := info
		noSSH.Ports = []types.ReservedPort{{ServiceName: "Jupyter", OutsidePort: 2043}}
		body := BuildContainerStarted(noSSH, false)

		assert.NotContains(t, body, "ssh user@")
		assert.Contains(t, body, "Service Jupyter is available through: 10.0.0.5:2043")
	})
}

func TestBuildStartFailed(t *testing.T) {
	body := BuildStartFailed("image pull failed: not found")

	assert.Contains(t, body, "did not start as there was an error")
	assert.Contains(t, body, "image pull failed: not found")
	assert.Contains(t, body, "noreply")
}

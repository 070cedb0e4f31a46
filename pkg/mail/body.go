package mail

import (
	"fmt"
	"strings"
	"time"

	"github.com/corralhq/corral/pkg/types"
)

// ConnectionInfo carries everything needed to describe how to reach a
// started container. The rendered text doubles as the email body and
// the reservation details shown in the client.
type ConnectionInfo struct {
	Image       string
	IP          string
	Ports       []types.ReservedPort
	Password    string
	EndDate     time.Time
	HelpAddress string
	ClientURL   string
}

// BuildContainerStarted renders the connection instructions for a
// started container. With includeEmailDetails the noreply and help
// footers are added; without them the text serves as the in-client
// reservation details.
func BuildContainerStarted(info ConnectionInfo, includeEmailDetails bool) string {
	var b strings.Builder

	if includeEmailDetails {
		fmt.Fprintf(&b, "Container with image %s is ready to use.\n\n-----\n", info.Image)
	}

	var others []types.ReservedPort
	for _, port := range info.Ports {
		if port.ServiceName != "SSH" {
			others = append(others, port)
			continue
		}
		fmt.Fprintf(&b, "Connecting with Visual Studio Code (SSH):\n")
		fmt.Fprintf(&b, "user@%s:%d\n\n", info.IP, port.OutsidePort)
		fmt.Fprintf(&b, "Connecting from the terminal (SSH):\n")
		fmt.Fprintf(&b, "ssh user@%s -p %d\n\n", info.IP, port.OutsidePort)
		fmt.Fprintf(&b, "Password for the SSH connection:\n%s\n", info.Password)
	}

	b.WriteString("-----\n")
	for _, port := range others {
		fmt.Fprintf(&b, "Service %s is available through: %s:%d\n",
			port.ServiceName, info.IP, port.OutsidePort)
	}

	fmt.Fprintf(&b, "\nIP address of the machine: %s\n", info.IP)

	if !info.EndDate.IsZero() {
		fmt.Fprintf(&b, "\nYour reservation will end at (UTC): %s\n",
			info.EndDate.UTC().Format("2006-01-02 15:04:05"))
	}

	if includeEmailDetails {
		b.WriteString("\nThis is a noreply email account. Please do not reply to this email.\n")
		if info.ClientURL != "" {
			fmt.Fprintf(&b, "You can access your reservations through: %s\n", info.ClientURL)
		}
		if info.HelpAddress != "" {
			fmt.Fprintf(&b, "If you need help, contact: %s\n", info.HelpAddress)
		}
	}

	return b.String()
}

// BuildStartFailed renders the notification sent when a reservation
// container failed to launch.
func BuildStartFailed(errorMessage string) string {
	var b strings.Builder
	b.WriteString("Your server reservation did not start as there was an error.\n\n")
	fmt.Fprintf(&b, "The error was:\n\n%s\n\n", errorMessage)
	b.WriteString("Please do not reply to this email, this email is sent from a noreply email address.\n")
	return b.String()
}

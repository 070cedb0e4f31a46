package reconciler

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/corralhq/corral/pkg/events"
	"github.com/corralhq/corral/pkg/log"
	"github.com/corralhq/corral/pkg/mail"
	"github.com/corralhq/corral/pkg/metrics"
	"github.com/corralhq/corral/pkg/runtime"
	"github.com/corralhq/corral/pkg/types"
)

const (
	passwordLength   = 40
	passwordAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	gib = int64(1024 * 1024 * 1024)

	// ramDiskPath is where the optional tmpfs lands inside the container.
	ramDiskPath = "/home/user/ram_disk"
)

// generatePassword produces the one-off SSH password set inside the
// container.
func generatePassword() (string, error) {
	buf := make([]byte, passwordLength)
	max := big.NewInt(int64(len(passwordAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf[i] = passwordAlphabet[n.Int64()]
	}
	return string(buf), nil
}

// dockerName builds the container name. The image part drops registry
// path separators and the tag so the name stays a valid Docker
// identifier; the timestamp makes relaunches of the same reservation
// distinguishable.
func dockerName(reservationID int64, imageName string, now time.Time) string {
	image := strings.NewReplacer(":", "", "/", "").Replace(imageName)
	return fmt.Sprintf("%s%d-%s-%s", containerNamePrefix, reservationID, image,
		now.UTC().Format("01_02_2006_15_04_05"))
}

// launch realizes one due reservation as a running container. Failures
// land the reservation in error with the cause recorded; they are
// terminal, the reconciler does not retry a failed launch.
func (r *Reconciler) launch(reservation *types.Reservation) {
	logger := log.WithReservation(reservation.ID)

	image, err := r.store.GetContainerImage(reservation.Container.ImageID)
	if err != nil {
		r.failLaunch(reservation, nil, "", fmt.Sprintf("image lookup failed: %v", err))
		return
	}
	user, err := r.store.GetUser(reservation.UserID)
	if err != nil {
		r.failLaunch(reservation, nil, "", fmt.Sprintf("user lookup failed: %v", err))
		return
	}
	computer, err := r.store.GetComputer(reservation.ComputerID)
	if err != nil {
		r.failLaunch(reservation, nil, "", fmt.Sprintf("computer lookup failed: %v", err))
		return
	}

	password, err := generatePassword()
	if err != nil {
		r.failLaunch(reservation, user, "", fmt.Sprintf("password generation failed: %v", err))
		return
	}

	binds, err := r.materializeMounts(user, reservation.ComputerID)
	if err != nil {
		r.failLaunch(reservation, user, "", fmt.Sprintf("mount preparation failed: %v", err))
		return
	}

	var ramGB, cpus int64
	var gpuIDs []string
	for _, held := range reservation.HardwareSpecs {
		spec, err := r.store.GetHardwareSpec(held.HardwareSpecID)
		if err != nil {
			r.failLaunch(reservation, user, "", fmt.Sprintf("hardware spec lookup failed: %v", err))
			return
		}
		switch spec.Type {
		case types.HardwareTypeRAM:
			ramGB = held.Amount
		case types.HardwareTypeCPUs:
			cpus = held.Amount
		case types.HardwareTypeGPU:
			gpuIDs = append(gpuIDs, spec.InternalID)
		}
	}

	name := dockerName(reservation.ID, image.ImageName, time.Now())

	imageRef := image.ImageName
	if r.cfg.RegistryAddress != "" {
		imageRef = r.cfg.RegistryAddress + "/" + image.ImageName
	}

	shmPercent := reservation.Container.ShmSizePercent
	if shmPercent <= 0 {
		shmPercent = 50
	}

	spec := runtime.ContainerSpec{
		Name:         name,
		Image:        imageRef,
		MemoryBytes:  ramGB * gib,
		ShmSizeBytes: ramGB * gib * int64(shmPercent) / 100,
		NanoCPUs:     cpus * 1e9,
		GPUDeviceIDs: gpuIDs,
		Binds:        binds,
	}
	if pct := reservation.Container.RAMDiskPercent; pct > 0 {
		spec.TmpfsPath = ramDiskPath
		spec.TmpfsSizeBytes = ramGB * gib * int64(pct) / 100
	}

	// Port choice and the Docker run must be one critical section, or a
	// concurrent launch could pick the same free port.
	r.allocator.Lock(reservation.ComputerID)
	defer r.allocator.Unlock(reservation.ComputerID)

	var reservedPorts []types.ReservedPort
	var taken []int
	for _, imagePort := range image.Ports {
		outside, err := r.allocator.Allocate(reservation.ComputerID, taken)
		if err != nil {
			r.failLaunch(reservation, user, "", fmt.Sprintf("port allocation failed: %v", err))
			return
		}
		taken = append(taken, outside)
		reservedPorts = append(reservedPorts, types.ReservedPort{
			ImagePortID: imagePort.ID,
			ServiceName: imagePort.ServiceName,
			InsidePort:  imagePort.Port,
			OutsidePort: outside,
		})
		spec.Ports = append(spec.Ports, runtime.PortBinding{
			InsidePort:  imagePort.Port,
			OutsidePort: outside,
		})
	}

	// The pull is part of Run, so this deadline is deliberately much
	// wider than the per-call one.
	ctx, cancel := context.WithTimeout(context.Background(), 10*r.cfg.DockerTimeout)
	defer cancel()

	logger.Info().Str("container", name).Str("image", imageRef).Msg("launching container")
	if _, err := r.engine.Run(ctx, spec); err != nil {
		r.removeContainer(name)
		r.failLaunch(reservation, user, name, err.Error())
		return
	}

	pwCtx, pwCancel := r.dockerCtx()
	err = r.engine.SetPassword(pwCtx, name, "user", password)
	pwCancel()
	if err != nil {
		r.removeContainer(name)
		r.failLaunch(reservation, user, name, fmt.Sprintf("setting the SSH password failed: %v", err))
		return
	}

	now := time.Now().UTC()
	reservation.Status = types.StatusStarted
	reservation.Container.DockerName = name
	reservation.Container.SSHPassword = password
	reservation.Container.StartedAt = now
	reservation.Container.Status = "running"
	reservation.Container.ErrorMessage = ""
	reservation.Container.Ports = reservedPorts
	if err := r.store.UpdateReservation(reservation); err != nil {
		// The container runs but the record does not say so. Leave it
		// to the orphan sweep rather than risking a double launch.
		logger.Error().Err(err).Str("container", name).Msg("status write after launch failed")
		r.removeContainer(name)
		return
	}

	metrics.ContainersStarted.Inc()
	r.publish(events.EventContainerStarted, reservation, name)
	logger.Info().Str("container", name).Msg("container started")

	if r.cfg.EmailEnabled {
		body := mail.BuildContainerStarted(mail.ConnectionInfo{
			Image:       image.ImageName,
			IP:          computer.IP,
			Ports:       reservedPorts,
			Password:    password,
			EndDate:     reservation.EndDate,
			HelpAddress: r.cfg.HelpAddress,
			ClientURL:   r.cfg.ClientURL,
		}, true)
		if err := r.mailer.Send(context.Background(), user.Email, "Your reservation is ready to use", body); err != nil {
			logger.Warn().Err(err).Msg("start notification email failed")
		}
	}
}

// failLaunch records a launch failure. No port rows are written; the
// name is kept when a container may exist so the sweep can find it.
func (r *Reconciler) failLaunch(reservation *types.Reservation, user *types.User, containerName, errorMessage string) {
	logger := log.WithReservation(reservation.ID)
	logger.Error().Str("error", errorMessage).Msg("container launch failed")

	reservation.Status = types.StatusError
	reservation.Container.DockerName = containerName
	reservation.Container.ErrorMessage = errorMessage
	reservation.Container.Ports = nil
	if err := r.store.UpdateReservation(reservation); err != nil {
		logger.Error().Err(err).Msg("recording launch failure failed")
	}

	metrics.ContainersStartFailed.Inc()
	r.publish(events.EventContainerStartFailed, reservation, errorMessage)

	if r.cfg.EmailEnabled && user != nil {
		body := mail.BuildStartFailed(errorMessage)
		if err := r.mailer.Send(context.Background(), user.Email, "Your reservation did not start", body); err != nil {
			logger.Warn().Err(err).Msg("failure notification email failed")
		}
	}
}

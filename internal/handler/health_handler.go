package handler

import (
	"os"

	"github.com/gofiber/fiber/v2"
)

func RegisterHealthRoutes(app fiber.Router, dataDir string) {
	app.Get("/livez", LivezHandler())
	app.Get("/readyz", ReadyzHandler(dataDir))
}

func LivezHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status": "ok",
		})
	}
}

// ReadyzHandler probes that the data directory is still writable, since every
// send and callback persists through it.
func ReadyzHandler(dataDir string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		dataErr := probeDataDir(dataDir)

		dataStatus := "ok"
		if dataErr != nil {
			dataStatus = "down"
		}

		status := "ready"
		statusCode := fiber.StatusOK
		if dataErr != nil {
			status = "not_ready"
			statusCode = fiber.StatusServiceUnavailable
		}

		return c.Status(statusCode).JSON(fiber.Map{
			"status": status,
			"checks": fiber.Map{
				"data_dir": dataStatus,
			},
		})
	}
}

func probeDataDir(dataDir string) error {
	probe, err := os.CreateTemp(dataDir, ".readyz-*")
	if err != nil {
		return err
	}
	name := probe.Name()
	if err := probe.Close(); err != nil {
		_ = os.Remove(name)
		return err
	}
	return os.Remove(name)
}

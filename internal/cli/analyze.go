package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ayusman/gasketvision/internal/app"
	"github.com/ayusman/gasketvision/internal/capture"
	"github.com/ayusman/gasketvision/internal/config"
	"github.com/ayusman/gasketvision/internal/detector"
	"github.com/ayusman/gasketvision/internal/inspection"
)

type analyzeOutput struct {
	Success  bool               `json:"analisis_exitoso"`
	Attempts int                `json:"attempts"`
	Error    string             `json:"error,omitempty"`
	Data     *inspection.Result `json:"data"`
}

func newAnalyzeCommand(e *env) *cobra.Command {
	var imagePath, outPath, template string

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Inspect an image file and print the result as JSON",
		Long: "Inspect an image file with the selected template and print the result as JSON.\n" +
			"Exits with status 2 when the part is rejected.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if imagePath == "" {
				return errors.New("--image is required")
			}

			st, err := e.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			dets, err := detector.Open(e.settings.Models)
			if err != nil {
				return err
			}
			defer dets.Close()

			cam, err := capture.LoadImage(imagePath)
			if err != nil {
				return err
			}
			defer cam.Release()

			a, err := app.New(app.Config{
				Settings:  e.provider,
				Store:     st,
				Detectors: dets,
				Source:    capture.NewSource(cam, config.CameraConfig{}, e.logger.Logger),
				Logger:    e.logger.Logger,
			})
			if err != nil {
				return err
			}
			defer a.Close()

			if template != "" {
				if err := a.SelectTemplate(cmd.Context(), template); err != nil {
					return err
				}
			}

			out, err := a.Inspect(cmd.Context())
			if err != nil {
				return err
			}

			if outPath != "" && out.Image != nil {
				if err := os.WriteFile(outPath, out.Image, 0o644); err != nil {
					return fmt.Errorf("writing overlay: %w", err)
				}
			}

			res := analyzeOutput{Success: out.Success, Attempts: out.Attempts, Data: out.Data}
			if out.Err != nil {
				res.Error = out.Err.Error()
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return err
			}
			if !out.Success {
				return ErrRejected
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&imagePath, "image", "i", "", "image file to inspect")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "write the overlay JPEG here")
	cmd.Flags().StringVarP(&template, "template", "t", "", "select this template before inspecting")
	return cmd
}

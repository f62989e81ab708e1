package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fresco-hpc/fresco-etl/catalog"
	"github.com/fresco-hpc/fresco-etl/common"
)

var (
	catalogEndpoint      string
	catalogAccessKey     string
	catalogSecretKey     string
	catalogSourceBucket  string
	catalogArchiveBucket string
	catalogPrefix        string
	catalogWorkDir       string
	catalogBudgetGiB     float64
	catalogInsecure      bool
)

// catalogCmd represents the catalog command
var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Build monthly and quarterly archives with a manifest",
	Long: "catalog groups the finalized objects in the source bucket by the\n" +
		"period embedded in their filenames, zips each group, uploads the\n" +
		"archives, and publishes a manifest with checksums and time ranges.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, required := range []string{catalogEndpoint, catalogSourceBucket, catalogArchiveBucket} {
			if required == "" {
				return common.NewErrorf(common.EErrorKind.Configuration(),
					"catalog needs --endpoint, --source-bucket, and --archive-bucket")
			}
		}
		accessKey := firstNonEmpty(catalogAccessKey, os.Getenv("OBJECT_STORE_ACCESS_KEY"))
		secretKey := firstNonEmpty(catalogSecretKey, os.Getenv("OBJECT_STORE_SECRET_KEY"))

		source, err := catalog.NewStore(catalog.StoreConfig{
			Endpoint:  catalogEndpoint,
			AccessKey: accessKey,
			SecretKey: secretKey,
			Bucket:    catalogSourceBucket,
			UseTLS:    !catalogInsecure,
		})
		if err != nil {
			return err
		}
		archive, err := catalog.NewStore(catalog.StoreConfig{
			Endpoint:  catalogEndpoint,
			AccessKey: accessKey,
			SecretKey: secretKey,
			Bucket:    catalogArchiveBucket,
			UseTLS:    !catalogInsecure,
		})
		if err != nil {
			return err
		}

		workDir := catalogWorkDir
		if workDir == "" {
			workDir = os.TempDir()
		}
		b := catalog.NewBuilder(source, archive, workDir, appLogger)
		if catalogBudgetGiB > 0 {
			b.MaxWorkDirGiB = catalogBudgetGiB
		}
		entries, err := b.Run(appCtx, catalogPrefix)
		if err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Printf("%s\t%d files\t%s\n", e.Path, e.ObjectCount, e.Checksum)
		}
		return nil
	},
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func init() {
	catalogCmd.PersistentFlags().StringVar(&catalogEndpoint, "endpoint", "", "S3-compatible object store endpoint (host:port).")
	catalogCmd.PersistentFlags().StringVar(&catalogAccessKey, "access-key", "", "Access key; falls back to OBJECT_STORE_ACCESS_KEY.")
	catalogCmd.PersistentFlags().StringVar(&catalogSecretKey, "secret-key", "", "Secret key; falls back to OBJECT_STORE_SECRET_KEY.")
	catalogCmd.PersistentFlags().StringVar(&catalogSourceBucket, "source-bucket", "", "Bucket holding the finalized outputs.")
	catalogCmd.PersistentFlags().StringVar(&catalogArchiveBucket, "archive-bucket", "", "Bucket receiving the archives and manifest.")
	catalogCmd.PersistentFlags().StringVar(&catalogPrefix, "prefix", "", "Only archive objects under this key prefix.")
	catalogCmd.PersistentFlags().StringVar(&catalogWorkDir, "work-dir", "", "Scratch directory for downloads; defaults to the system temp dir.")
	catalogCmd.PersistentFlags().Float64Var(&catalogBudgetGiB, "work-dir-budget-gib", 0, "Abort a group when the scratch directory would exceed this size.")
	catalogCmd.PersistentFlags().BoolVar(&catalogInsecure, "insecure", false, "Use plain HTTP to reach the object store.")
	rootCmd.AddCommand(catalogCmd)
}

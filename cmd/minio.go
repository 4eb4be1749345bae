package cmd

import (
	"fmt"
	"log"

	"Bt2Deck/config"
	"Bt2Deck/storage"

	"github.com/spf13/cobra"
)

var minioPrefix string

var minioCmd = &cobra.Command{
	Use:   "minio",
	Short: "MinIO存储桶检查",
	Long:  `测试MinIO连接并列出存储桶中的波形与音频对象。`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("开始连接MinIO服务器...")

		// 加载配置
		cfg := config.Load()
		fmt.Printf("MinIO配置: %s, Bucket: %s\n", cfg.MinioEndpoint, cfg.MinioBucket)

		// 初始化MinIO客户端
		if err := storage.InitMinio(cfg); err != nil {
			log.Fatalf("无法连接到MinIO: %v", err)
		}
		fmt.Println("MinIO连接成功！")

		fmt.Printf("\n列出存储桶中的文件 (前缀: %s)...\n", minioPrefix)
		if err := storage.ListObjects(minioPrefix); err != nil {
			log.Fatalf("列出文件失败: %v", err)
		}

		fmt.Println("\nMinIO操作完成！")
	},
}

func init() {
	rootCmd.AddCommand(minioCmd)

	minioCmd.Flags().StringVarP(&minioPrefix, "prefix", "p", "", "按前缀过滤对象")
	minioCmd.Example = `  # 列出所有对象
  2deck_server minio

  # 只看波形对象
  2deck_server minio -p "waveforms/"`
}

package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"bilipub/pkg/utils"

	"github.com/spf13/cobra"
)

var (
	uploadVideoPath string
	uploadProfile   string
)

var uploadCmd = &cobra.Command{
	Use:   "upload [video_path]",
	Short: "只上传视频，不提交稿件",
	Long: `按分块上传协议把本地视频上传到B站 CDN，输出上传摘要。
用于排查上传线路与限流问题，不会创建稿件。`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) == 1 {
			uploadVideoPath = args[0]
		}
		if uploadVideoPath == "" {
			fmt.Fprintf(os.Stderr, "请指定要上传的视频路径\n")
			os.Exit(1)
		}
		if _, err := utils.RegularFileSize(uploadVideoPath); err != nil {
			fmt.Fprintf(os.Stderr, "视频文件不可用: %v\n", err)
			os.Exit(1)
		}

		ctx := context.Background()
		application := mustApp(ctx)
		defer application.Close()

		cookie, err := application.Credentials.CookieHeader(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "读取 Cookie 失败: %v\n", err)
			os.Exit(1)
		}
		client, err := application.NewClient(cookie)
		if err != nil {
			fmt.Fprintf(os.Stderr, "创建B站客户端失败: %v\n", err)
			os.Exit(1)
		}
		defer client.Close()

		uploaded, debug, err := client.UploadVideoFile(ctx, uploadVideoPath, uploadProfile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "上传视频失败: %v\n", err)
			os.Exit(1)
		}

		out, _ := json.MarshalIndent(map[string]any{
			"filename": uploaded.Filename,
			"cid":      uploaded.CID,
			"debug":    debug,
		}, "", "  ")
		fmt.Println(string(out))
	},
}

func init() {
	uploadCmd.Flags().StringVar(&uploadVideoPath, "video", "", "要上传的本地视频文件路径")
	uploadCmd.Flags().StringVar(&uploadProfile, "profile", "", "预上传 profile，默认取 bilibili.profile")
}

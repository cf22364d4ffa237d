package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"bilipub/internal/repository/category"

	"github.com/spf13/cobra"
)

var categoriesJSON bool

var categoriesCmd = &cobra.Command{
	Use:   "categories",
	Short: "列出可投稿的分区",
	Long:  `从创作中心投稿页配置中读取分区树，展开为叶子分区列表（ID 与完整路径）。`,
	Run: func(cmd *cobra.Command, args []string) {
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

		raw, err := client.ArchivePre(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "获取分区列表失败: %v\n", err)
			os.Exit(1)
		}
		candidates := category.Flatten(category.ParseTree(raw))

		if categoriesJSON {
			out, _ := json.MarshalIndent(candidates, "", "  ")
			fmt.Println(string(out))
			return
		}
		for _, c := range candidates {
			fmt.Printf("%6d  %s\n", c.ID, c.Path)
		}
	},
}

func init() {
	categoriesCmd.Flags().BoolVar(&categoriesJSON, "json", false, "以 JSON 格式输出")
}

// Command admin promotes, demotes and lists comment moderators.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"

	"postscript/internal/config"
	"postscript/internal/database"
	"postscript/internal/models"

	"gorm.io/gorm"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()
	d, err := database.Connect(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer d.Close()

	switch cmd := os.Args[1]; cmd {
	case "promote", "demote":
		if len(os.Args) < 3 {
			usage()
			os.Exit(1)
		}
		id, err := strconv.ParseUint(os.Args[2], 10, 64)
		if err != nil {
			log.Fatalf("Invalid user id %q", os.Args[2])
		}
		if err := setAdmin(ctx, d.DB, uint(id), cmd == "promote"); err != nil {
			log.Fatalf("%s failed: %v", cmd, err)
		}
	case "list-admins":
		if err := listAdmins(ctx, d.DB); err != nil {
			log.Fatalf("list-admins failed: %v", err)
		}
	default:
		fmt.Printf("Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("Usage:")
	fmt.Println("  admin promote <user_id>   - Allow a user to moderate comments")
	fmt.Println("  admin demote <user_id>    - Revoke moderation rights")
	fmt.Println("  admin list-admins         - List all moderators")
}

func setAdmin(ctx context.Context, db *gorm.DB, id uint, admin bool) error {
	var user models.User
	if err := db.WithContext(ctx).First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("user with ID %d not found", id)
		}
		return err
	}
	if user.IsAdmin == admin {
		fmt.Printf("User %s (ID: %d) already has is_admin=%v\n", user.Name, user.ID, admin)
		return nil
	}
	if err := db.WithContext(ctx).Model(&user).Update("is_admin", admin).Error; err != nil {
		return err
	}
	fmt.Printf("User %s (ID: %d) is_admin=%v\n", user.Name, user.ID, admin)
	return nil
}

func listAdmins(ctx context.Context, db *gorm.DB) error {
	var admins []models.User
	if err := db.WithContext(ctx).Where("is_admin = ?", true).Order("id").Find(&admins).Error; err != nil {
		return err
	}
	if len(admins) == 0 {
		fmt.Println("No admins found")
		return nil
	}
	for _, u := range admins {
		fmt.Printf("%d\t%s\t%s\n", u.ID, u.Name, u.Email)
	}
	return nil
}

package roles

import (
	"fmt"
	"sync"
)

const (
	HostLala       = "CHAR.HOST.LALA"
	HostJustAWoman = "CHAR.HOST.JUSTAWOMANINHERPRIME"
	Background     = "BG.MAIN"
	ShowTitle      = "TEXT.SHOW.TITLE"
	WardrobePanel  = "WARDROBE.PANEL"
)

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the process-wide canonical registry. It is built on first
// use and shared by pointer afterwards.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = NewRegistry(canonicalRoles())
	})
	return defaultRegistry
}

func canonicalRoles() []Role {
	defs := []Role{
		{Key: HostLala, Label: "Lala (Host)", Category: CategoryCharacter, Description: "Primary host - Lala", DefaultSize: Size{400, 600}, Required: true},
		{Key: HostJustAWoman, Label: "JustAWoman (Co-Host)", Category: CategoryCharacter, Description: "Co-host - Just a Woman in Her Prime", DefaultSize: Size{400, 600}, Required: true},
		{Key: "CHAR.GUEST.1", Label: "Guest 1", Category: CategoryCharacter, Description: "Primary guest", DefaultSize: Size{350, 550}},
		{Key: "CHAR.GUEST.2", Label: "Guest 2", Category: CategoryCharacter, Description: "Secondary guest", DefaultSize: Size{350, 550}},

		icon("UI.ICON.CLOSET", "Closet Icon", "Wardrobe/closet themed icon"),
		icon("UI.ICON.JEWELRY_BOX", "Jewelry Box Icon", "Jewelry box themed icon"),
		icon("UI.ICON.TODO_LIST", "To-Do List Icon", "Task list or checklist icon"),
		icon("UI.ICON.SPEECH", "Speech Bubble Icon", "Speech or conversation bubble"),
		icon("UI.ICON.LOCATION", "Location Pin Icon", "Location or map pin"),
		icon("UI.ICON.PERFUME", "Perfume Bottle Icon", "Perfume or fragrance bottle"),
		icon("UI.ICON.POSE", "Pose Icon", "Fashion pose or stance icon"),
		icon("UI.ICON.RESERVED", "Reserved Icon", "Reserved for future use"),

		{Key: "UI.ICON.HOLDER.MAIN", Label: "Icon Holder", Category: CategoryAsset, Description: "Container panel for icon grid", DefaultSize: Size{300, 400}},
		{Key: "BRAND.SHOW.TITLE_GRAPHIC", Label: "Show Title Graphic", Category: CategoryAsset, Description: "Show logo or title graphic", DefaultSize: Size{500, 200}},

		{Key: Background, Label: "Background", Category: CategoryBG, Description: "Main background image or video frame", DefaultSize: Size{1920, 1080}},

		{Key: ShowTitle, Label: "Show Title", Category: CategoryText, Description: "Show title text overlay", DefaultSize: Size{800, 100}, TextField: true, Style: textStyle(48, "bold")},

		{Key: "UI.MOUSE.CURSOR", Label: "Mouse Cursor", Category: CategoryUI, Description: "Animated cursor or pointer", DefaultSize: Size{40, 40}},
		{Key: "UI.BUTTON.EXIT", Label: "Exit Button", Category: CategoryUI, Description: "Window close/exit button", DefaultSize: Size{60, 60}},
		{Key: "UI.BUTTON.MINIMIZE", Label: "Minimize Button", Category: CategoryUI, Description: "Window minimize button", DefaultSize: Size{60, 60}},

		{Key: WardrobePanel, Label: "Wardrobe Panel", Category: CategoryWardrobe, Description: "Container panel for wardrobe items", DefaultSize: Size{350, 500}, AutoManaged: true},
	}

	for i := 1; i <= 3; i++ {
		defs = append(defs, Role{
			Key:         fmt.Sprintf("TEXT.CUSTOM.%d", i),
			Label:       fmt.Sprintf("Custom Text %d", i),
			Category:    CategoryText,
			Description: fmt.Sprintf("User-defined text field %d", i),
			DefaultSize: Size{600, 80},
			TextField:   true,
			Style:       textStyle(36, "normal"),
		})
	}
	for i := 1; i <= 8; i++ {
		defs = append(defs, Role{
			Key:         fmt.Sprintf("WARDROBE.ITEM.%d", i),
			Label:       fmt.Sprintf("Wardrobe Item %d", i),
			Category:    CategoryWardrobe,
			Description: fmt.Sprintf("Wardrobe showcase item slot %d", i),
			DefaultSize: Size{100, 100},
		})
	}
	return defs
}

func icon(key, label, description string) Role {
	return Role{Key: key, Label: label, Category: CategoryUI, Description: description, DefaultSize: Size{80, 80}}
}

func textStyle(fontSize int, weight string) *TextStyle {
	return &TextStyle{
		FontSize:    fontSize,
		FontFamily:  "Arial, sans-serif",
		FontWeight:  weight,
		Color:       "#ffffff",
		TextAlign:   "center",
		Stroke:      "#000000",
		StrokeWidth: 2,
	}
}

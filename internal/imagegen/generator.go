package imagegen

import (
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Page describes a written orchestration page.
type Page struct {
	Filename string
	LocalURL string
	FullURL  string
}

// PageGenerator writes the browser-side orchestration page that generates an
// image with Puter.js and posts the result back through the two callback
// endpoints.
type PageGenerator struct {
	dir           string
	publicBaseURL string
	tmpl          *template.Template
}

func NewPageGenerator(dir, publicBaseURL string) *PageGenerator {
	return &PageGenerator{
		dir:           dir,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		tmpl:          template.Must(template.New("puter-page").Parse(pageTemplate)),
	}
}

// WritePage renders the page for prompt into the image directory and returns
// its local and public URLs.
func (g *PageGenerator) WritePage(prompt, sender string) (Page, error) {
	if err := os.MkdirAll(g.dir, 0o755); err != nil {
		return Page{}, fmt.Errorf("create image dir: %w", err)
	}
	ts := time.Now().Unix()
	filename := fmt.Sprintf("puter_%d.html", ts)

	f, err := os.Create(filepath.Join(g.dir, filename))
	if err != nil {
		return Page{}, fmt.Errorf("create page file: %w", err)
	}
	data := struct {
		Prompt    string
		Sender    string
		Timestamp int64
	}{Prompt: prompt, Sender: sender, Timestamp: ts}
	if err := g.tmpl.Execute(f, data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return Page{}, fmt.Errorf("render page: %w", err)
	}
	if err := f.Close(); err != nil {
		return Page{}, err
	}
	return Page{
		Filename: filename,
		LocalURL: "/puter-page/" + filename,
		FullURL:  g.publicBaseURL + "/puter-page/" + filename,
	}, nil
}

const pageTemplate = `<!DOCTYPE html>
<html>
<head>
    <title>Puter.ai - Génération automatique</title>
    <script src="https://js.puter.com/v2/"></script>
    <style>
        body { font-family: Arial, sans-serif; padding: 20px; text-align: center;
               background: linear-gradient(135deg, #667eea 0%, #764ba2 100%); color: white; }
        .container { max-width: 800px; margin: 0 auto; padding: 30px;
                     background: rgba(255,255,255,0.1); border-radius: 15px; }
        .status { padding: 20px; background: rgba(255,255,255,0.2); border-radius: 10px; margin: 20px 0; }
        #imageContainer img { max-width: 100%; border-radius: 10px; margin: 20px 0; }
    </style>
</head>
<body>
    <div class="container">
        <h1>Génération automatique</h1>
        <div class="status" id="status">
            <h3>Génération en cours...</h3>
            <p><strong>Prompt:</strong> {{.Prompt}}</p>
            <p>Patientez 15-30 secondes. L'image sera envoyée sur WhatsApp automatiquement.</p>
        </div>
        <div id="imageContainer"></div>
        <div id="whatsappStatus"></div>
    </div>
    <script>
    const prompt = {{.Prompt}};
    const senderNumber = {{.Sender}};
    const timestamp = {{.Timestamp}};

    function updateStatus(message) {
        document.getElementById('status').innerHTML = '<h3>' + message + '</h3>';
    }

    async function processImage() {
        try {
            if (!window.puter || !window.puter.ai) {
                throw new Error("Puter.js non chargé");
            }
            updateStatus("Création de l'image...");
            const imageElement = await puter.ai.txt2img(prompt, { model: "gpt-image-1", quality: "low" });
            let imageUrl = imageElement.src;
            if (!imageUrl && imageElement.querySelector) {
                const img = imageElement.querySelector('img');
                if (img) imageUrl = img.src;
            }
            if (!imageUrl) throw new Error("Impossible de récupérer l'image");
            document.getElementById('imageContainer').appendChild(imageElement);

            let imageData = imageUrl;
            if (!imageUrl.startsWith('data:')) {
                const blob = await (await fetch(imageUrl)).blob();
                imageData = await new Promise(resolve => {
                    const reader = new FileReader();
                    reader.onloadend = () => resolve(reader.result);
                    reader.readAsDataURL(blob);
                });
            }

            updateStatus("Envoi au serveur...");
            const serverResponse = await fetch('/api/process-puter-image', {
                method: 'POST',
                headers: { 'Content-Type': 'application/json' },
                body: JSON.stringify({ image: imageData, prompt: prompt, timestamp: timestamp, sender_number: senderNumber })
            });
            const serverResult = await serverResponse.json();
            if (!serverResult.success) {
                throw new Error("Échec serveur: " + (serverResult.error || "inconnu"));
            }

            if (senderNumber && serverResult.public_url) {
                updateStatus("Envoi sur WhatsApp...");
                const whatsappResponse = await fetch('/api/send-whatsapp-direct', {
                    method: 'POST',
                    headers: { 'Content-Type': 'application/json' },
                    body: JSON.stringify({ to_number: senderNumber, image_url: serverResult.public_url, prompt: prompt })
                });
                const whatsappResult = await whatsappResponse.json();
                document.getElementById('whatsappStatus').innerText =
                    whatsappResult.success ? "Image envoyée sur WhatsApp." : "WhatsApp non envoyé: " + (whatsappResult.error || "");
            }
            updateStatus("Terminé");
            setTimeout(() => window.close(), 10000);
        } catch (error) {
            updateStatus("Erreur: " + error.message);
        }
    }

    document.addEventListener('DOMContentLoaded', processImage);
    </script>
</body>
</html>
`

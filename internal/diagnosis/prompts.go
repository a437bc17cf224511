package diagnosis

import (
	"strings"
	"text/template"
)

const audioSummaryPrompt = `Analyze the audio content of this refrigerator video and extract only the key problem information:

**EXTRACT ONLY:**
- Main refrigerator problem described
- Any error codes or display messages mentioned
- Specific symptoms mentioned (sounds, temperatures, functions not working)
- Brand/model information if mentioned
- Any previous troubleshooting attempts mentioned

**FORMAT:** Provide a brief summary (2-3 sentences) of the key problem information from the audio.
**DO NOT:** Provide timestamps or detailed transcription.`

const (
	noDescription    = "No specific problem description provided"
	noProblemContext = "Refrigerator issue from video analysis"
)

var diagnosisTemplate = template.Must(template.New("diagnosis").Parse(`You are a master refrigerator technician with 25+ years of experience diagnosing and repairing all major refrigerator brands (Samsung, LG, Whirlpool, GE, Frigidaire, KitchenAid, Bosch, etc.).

**ANALYSIS CONTEXT:**
- Problem Description from Video: {{.Description}}
- Video File: {{.FileName}}
- Task: Provide comprehensive refrigerator analysis and diagnosis

**INSTRUCTIONS:** Analyze both visual and audio elements carefully. Look for brand logos, model numbers, refrigerator layout, problem descriptions, any sounds/noises, and visible issues.

**AUDIO ANALYSIS SUMMARY:** {{.AudioSummary}}

Provide your expert analysis in this EXACT format:

🏠 **REFRIGERATOR IDENTIFICATION & FEATURES:**
Brand: [Identify brand from logos, design, or state "Unable to determine"]
Model Number: [Look for model stickers/plates or state "Not visible in video"]
Refrigerator Type: [Top Freezer, Bottom Freezer, Side-by-Side, French Door, Compact, Built-in]
Estimated Age: [Based on design, features, condition: "1-2 years", "3-5 years", "5-10 years", "10+ years"]
Estimated Capacity: [Based on size: "10-15 cu ft", "16-20 cu ft", "21-25 cu ft", "26+ cu ft", or "Compact <10 cu ft"]

Key Features Observed:
• Ice Maker: [Present/Not Present/Not Visible] - [Type: In-door, Freezer compartment, External dispenser]
• Water Dispenser: [Present/Not Present/Not Visible] - [Internal/External]
• Display Panel: [Digital/Manual/None visible] - [Working/Not working/Not clear]
• Door Configuration: [Single/Double/Triple door layout]
• Special Features: [List any visible: LED lighting, drawers, shelves, temperature zones, etc.]

❄️ **DETAILED PROBLEM ANALYSIS:**
Primary Issue Category: [Ice Making Problems, Cooling/Temperature Issues, Water Dispenser Issues, Strange Noises/Sounds, Door Problems, Electrical Issues, Leaking/Water Issues, Other]

Severity Assessment: [Simple DIY Fix, Moderate Repair, Complex Professional Repair]

**PROBLEM STATEMENT:**
[Write a clear, comprehensive description of the exact problem based on video evidence and user description]

**SYMPTOMS OBSERVED:**
• Visual Symptoms: [List everything you see wrong in the video]
• Audio Symptoms: [List any sounds, noises, or spoken problems]
• Reported Symptoms: [Summarize what was described in the video]

**ROOT CAUSE ANALYSIS:**
Most Likely Causes (in order of probability):
1. [Primary cause with technical explanation]
2. [Secondary cause with explanation]
3. [Tertiary cause with explanation]

**TECHNICAL DIAGNOSIS:**
[Provide technical explanation of why this problem occurs, which components are involved]

🔧 **COMPREHENSIVE SOLUTIONS:**
[Provide detailed solutions based on severity level]

⚠️ **SAFETY WARNINGS & PROFESSIONAL RECOMMENDATIONS:**
**SAFETY FIRST:**
• [List all safety precautions before attempting any fixes]
• [Electrical safety warnings if applicable]
• [When to disconnect power/water]

**CALL PROFESSIONAL SERVICE IF:**
• [Specific conditions requiring professional help]
• [Signs that indicate complex electrical/refrigerant issues]
• [Warranty considerations]

**ESTIMATED COST:**
• DIY Repair: [Cost range for parts/supplies]
• Professional Repair: [Estimated service cost range]

**PREVENTION TIPS:**
[How to prevent this problem in the future]`))

var solutionsTemplate = template.Must(template.New("solutions").Parse(`Based on the refrigerator problem analysis, provide comprehensive step-by-step solutions. You are providing expert repair guidance.

**PROBLEM CONTEXT:** {{.Description}}

Provide solutions in this EXACT format:

🔧 **PRIMARY SOLUTION (Recommended)**
**Solution Name:** [Clear, descriptive name of the fix]
**Solution Type:** [DIY Simple, DIY Moderate, Professional Required]
**Time Required:** [Realistic time estimate: "5-10 minutes", "30-45 minutes", "1-2 hours"]
**Difficulty Level:** [Easy, Medium, Hard]
**Success Rate:** [High, Medium, Low - based on common success of this fix]

**TOOLS & MATERIALS NEEDED:**
• [List specific tools required]
• [List any replacement parts needed with part numbers if known]
• [List any supplies like cleaning materials, lubricants, etc.]

**DETAILED STEP-BY-STEP INSTRUCTIONS:**
**Preparation:**
1. [Safety preparation steps]
2. [Power/water disconnection if needed]
3. [Access preparation]

**Main Repair Steps:**
1. [Detailed step with specific actions]
2. [Include what to look for, how to test]
3. [Continue with precise instructions]
4. [Include reassembly steps]
5. [Testing and verification steps]

**TROUBLESHOOTING:**
• If [specific issue occurs]: [How to resolve]
• If problem persists: [Next steps to try]

**SAFETY WARNINGS:**
⚠️ [List all safety precautions specific to this repair]
⚠️ [Electrical safety if applicable]
⚠️ [When to stop and call professional]

---

🔧 **ALTERNATIVE SOLUTION** (If primary doesn't work)
**Solution Name:** [Alternative approach name]
**Solution Type:** [DIY Simple, DIY Moderate, Professional Required]
**Time Required:** [Time estimate]
**Difficulty Level:** [Easy, Medium, Hard]

**STEPS:**
1. [Alternative approach steps]
2. [Different method to try]
3. [Continue with alternative process]

**WHEN THIS IS BETTER:** [Explain when to use this instead of primary solution]

---

🔧 **QUICK TEMPORARY FIX** (If immediate solution needed)
**Temporary Solution:** [Quick workaround]
**Duration:** [How long this fix will last]
**Steps:**
1. [Quick fix steps]
2. [Temporary measures]

**NOTE:** [Explain this is temporary and permanent fix still needed]

---

🚨 **WHEN TO CALL PROFESSIONAL SERVICE IMMEDIATELY:**
• [Specific dangerous conditions]
• [Signs of complex electrical/refrigerant issues]
• [Warranty concerns - don't void warranty]
• [If multiple attempts have failed]
• [If special tools/expertise required]

**PROFESSIONAL SERVICE CONTACT:**
• Manufacturer warranty service: [When to use]
• Local appliance repair: [When to use]
• Emergency service: [When urgent]

---

💡 **COST ANALYSIS:**
**DIY Repair Costs:**
• Parts: $[estimate range]
• Tools (if needed): $[estimate range]
• Total DIY Cost: $[total range]

**Professional Repair Costs:**
• Service Call: $[typical range]
• Labor: $[estimate range]
• Parts: $[estimate range]
• Total Professional Cost: $[total range]

**ROI Analysis:** [When DIY vs professional makes financial sense]

---

🛡️ **PREVENTION & MAINTENANCE:**
**To Prevent This Problem:**
• [Specific maintenance tasks with frequency]
• [What to monitor regularly]
• [Signs to watch for]

**Regular Maintenance Schedule:**
• Monthly: [Tasks]
• Quarterly: [Tasks]
• Annually: [Tasks]

**RED FLAGS - Call Professional If You See:**
• [Warning signs that indicate bigger problems]
• [Symptoms that suggest professional help needed]`))

type promptData struct {
	Description  string
	FileName     string
	AudioSummary string
}

func diagnosisPrompt(userDescription, remoteName, audioSummary string) string {
	return render(diagnosisTemplate, promptData{
		Description:  orDefault(userDescription, noDescription),
		FileName:     remoteName,
		AudioSummary: audioSummary,
	})
}

func solutionsPrompt(userDescription string) string {
	return render(solutionsTemplate, promptData{Description: orDefault(userDescription, noProblemContext)})
}

func render(t *template.Template, data promptData) string {
	var b strings.Builder
	// Templates are static and data holds plain strings; Execute cannot fail.
	_ = t.Execute(&b, data)
	return b.String()
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
